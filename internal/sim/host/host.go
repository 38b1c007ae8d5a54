package host

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"nightshift.ai/internal/metrics"
	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/store"
	"nightshift.ai/internal/sim/tuning"
)

type Config struct {
	StoreID            string
	TickRateHz         int
	DayTicks           int
	SalesPerDay        int
	ReloadTicks        int
	SnapshotEveryTicks int
	Seed               int64

	NightShift nightshift.Config
}

func ConfigFromTuning(storeID string, t tuning.Tuning) Config {
	return Config{
		StoreID:            storeID,
		TickRateHz:         t.TickRateHz,
		DayTicks:           t.DayTicks,
		SalesPerDay:        t.SalesPerDay,
		ReloadTicks:        t.ReloadTicks,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Seed:               t.Seed,
		NightShift:         t.NightShift.Config(),
	}
}

type Options struct {
	Clock  nightshift.Clock
	Logger *log.Logger
	// Sink receives every runtime event on the host loop goroutine.
	Sink nightshift.EventSink
	// Metrics also receives every event; nil means metrics.NewNop().
	Metrics metrics.Collector
	// SnapshotSink receives store snapshots; writing them should be off-thread.
	SnapshotSink chan<- snapshot.StoreV1

	// Resume state.
	StartTick        uint64
	LastProcessedDay int
}

// Host owns a store and the night shift runtime and drives both from a
// single goroutine.
type Host struct {
	cfg   Config
	cat   *catalogs.Catalogs
	store *store.Store
	rt    *nightshift.Runtime
	log   *log.Logger
	rng   *rand.Rand

	tick atomic.Uint64

	salesDebt  int
	reloadDone uint64
	finished   *nightshift.RunResult

	snapshotSink chan<- snapshot.StoreV1
	collector    metrics.Collector

	requests chan request
	stop     chan struct{}
	stopOnce sync.Once

	metrics   atomic.Value
	soldTotal uint64
	dropped   uint64
}

func New(cfg Config, cat *catalogs.Catalogs, st *store.Store, opts Options) *Host {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &Host{
		cfg:          cfg,
		cat:          cat,
		store:        st,
		log:          logger,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		snapshotSink: opts.SnapshotSink,
		collector:    opts.Metrics,
		requests:     make(chan request, 16),
		stop:         make(chan struct{}),
	}
	if h.collector == nil {
		h.collector = metrics.NewNop()
	}
	sinks := nightshift.MultiSink{nightshift.EventSinkFunc(h.onEvent), h.collector}
	if opts.Sink != nil {
		sinks = append(sinks, opts.Sink)
	}
	h.rt = nightshift.NewRuntime(cfg.NightShift, st, nightshift.Options{
		Clock:  opts.Clock,
		Logger: logger,
		Sink:   sinks,
		Rand:   rand.New(rand.NewSource(cfg.Seed + 1)),
	})
	if opts.LastProcessedDay > 0 {
		h.rt.Restore(opts.LastProcessedDay)
	}
	h.tick.Store(opts.StartTick)
	h.publishMetrics(0)
	return h
}

func (h *Host) onEvent(e nightshift.Event) {
	if e.Kind == nightshift.EventFinished && e.Result != nil && e.Result.State == nightshift.StateDone {
		h.finished = e.Result
	}
}

func (h *Host) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(h.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []request
	for {
		select {
		case <-ctx.Done():
			h.failPending(pending, ctx.Err())
			return ctx.Err()
		case <-h.stop:
			h.failPending(pending, errStopped)
			return nil
		case req := <-h.requests:
			pending = append(pending, req)
		case <-ticker.C:
			h.step(pending)
			pending = pending[:0]
		}
	}
}

func (h *Host) Stop() { h.stopOnce.Do(func() { close(h.stop) }) }

// StepOnce advances the host by a single tick using the same ordering as
// Run. It is meant for tests and replays.
func (h *Host) StepOnce() uint64 {
	tick := h.tick.Load()
	h.step(nil)
	return tick
}

func (h *Host) CurrentTick() uint64 { return h.tick.Load() }

// Store and Runtime are only safe to touch from the loop goroutine, or when
// the loop is not running.
func (h *Host) Store() *store.Store          { return h.store }
func (h *Host) Runtime() *nightshift.Runtime { return h.rt }

func (h *Host) step(reqs []request) {
	start := time.Now()
	tick := h.tick.Load()

	if tick > 0 && h.cfg.DayTicks > 0 && tick%uint64(h.cfg.DayTicks) == 0 {
		day := h.store.AdvanceDay()
		h.log.Printf("tick %d: day %d begins", tick, day)
	}
	if h.reloadDone > 0 && tick >= h.reloadDone {
		h.reloadDone = 0
		h.store.FinishReload()
		h.log.Printf("tick %d: scene reloaded", tick)
	}

	if h.cfg.DayTicks > 0 && h.cfg.SalesPerDay > 0 {
		h.salesDebt += h.cfg.SalesPerDay
		for h.salesDebt >= h.cfg.DayTicks {
			h.salesDebt -= h.cfg.DayTicks
			h.soldTotal += uint64(h.store.SimulateSales(h.rng, 1))
		}
	}

	resps := make([]response, len(reqs))
	for i, req := range reqs {
		resps[i] = h.apply(req, tick)
	}

	h.rt.Update()

	if h.finished != nil {
		res := h.finished
		h.finished = nil
		snap := h.exportSnapshot(tick)
		snap.RunID = res.RunID
		snap.RunDay = res.Day
		if err := h.emitSnapshot(snap); err != nil {
			h.log.Printf("post-run snapshot day=%d: %v", res.Day, err)
		}
	} else if every := uint64(h.cfg.SnapshotEveryTicks); every > 0 && (tick+1)%every == 0 {
		if err := h.emitSnapshot(h.exportSnapshot(tick)); err != nil {
			h.log.Printf("snapshot tick=%d: %v", tick, err)
		}
	}

	for i, req := range reqs {
		if req.resp == nil {
			continue
		}
		select {
		case req.resp <- resps[i]:
		default:
			// Caller gave up; never block the loop.
		}
	}

	h.tick.Add(1)
	elapsed := time.Since(start)
	h.collector.ObserveStep(elapsed.Seconds())
	h.publishMetrics(float64(elapsed.Microseconds()) / 1000)
}

func (h *Host) apply(req request, tick uint64) response {
	resp := response{Tick: tick}
	switch req.kind {
	case reqManualRun:
		resp.Err = h.rt.RequestManualRun()
	case reqDayEnd:
		resp.Err = h.rt.NotifyDayEnding()
	case reqReload:
		if !h.store.Online() {
			resp.Err = errors.New("reload already in progress")
			break
		}
		h.store.BeginReload()
		h.reloadDone = tick + uint64(max(h.cfg.ReloadTicks, 1))
		h.log.Printf("tick %d: scene reload started", tick)
	case reqSnapshot:
		resp.Err = h.emitSnapshot(h.exportSnapshot(tick))
	default:
		resp.Err = errors.New("unknown request")
	}
	return resp
}

func (h *Host) exportSnapshot(tick uint64) snapshot.StoreV1 {
	snap := h.store.ExportSnapshot(h.cat)
	snap.Header.StoreID = h.cfg.StoreID
	snap.Header.Tick = tick
	snap.Seed = h.cfg.Seed
	snap.TickRate = h.cfg.TickRateHz
	snap.DayTicks = h.cfg.DayTicks
	snap.LastProcessedDay = h.rt.Scheduler().LastProcessedDay()
	return snap
}

func (h *Host) emitSnapshot(snap snapshot.StoreV1) error {
	if h.snapshotSink == nil {
		return errors.New("snapshot sink not configured")
	}
	select {
	case h.snapshotSink <- snap:
		return nil
	default:
		h.dropped++
		return errors.New("snapshot sink backpressure")
	}
}
