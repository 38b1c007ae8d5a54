package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"nightshift.ai/internal/metrics"
	"nightshift.ai/internal/persistence/archive"
	persistlog "nightshift.ai/internal/persistence/log"
	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/protocol"
	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/host"
	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/store"
	"nightshift.ai/internal/sim/tuning"
	"nightshift.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		storeID    = flag.String("store", "main", "store id")
		seed       = flag.Int64("seed", 0, "simulation seed (0 keeps the tuning seed; ignored on resume)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite run index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	storeDir := filepath.Join(*dataDir, "stores", *storeID)
	_ = os.MkdirAll(storeDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	cfg := host.ConfigFromTuning(*storeID, tune)

	// Optional: read-model index backend (does not affect the simulation).
	idx, err := openRuntimeIndex(storeDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	// Create the store (fresh or resumed from snapshot).
	st := store.New(cats)
	var opts host.Options
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(storeDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.StoreID != "" && snap.Header.StoreID != *storeID {
			logger.Fatalf("snapshot store id mismatch: flag=%s snap=%s", *storeID, snap.Header.StoreID)
		}
		if st, err = store.FromSnapshot(cats, snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		cfg.Seed = snap.Seed
		if snap.TickRate > 0 {
			cfg.TickRateHz = snap.TickRate
		}
		if snap.DayTicks > 0 {
			cfg.DayTicks = snap.DayTicks
		}
		opts.StartTick = snap.Header.Tick + 1
		opts.LastProcessedDay = snap.LastProcessedDay
		logger.Printf("resumed from snapshot=%s tick=%d day=%d last_processed_day=%d",
			filepath.Base(snapshotToLoad), snap.Header.Tick, snap.Header.Day, snap.LastProcessedDay)
	}

	ctx, cancel := signalContext()
	defer cancel()

	journal := persistlog.NewJournal(storeDir, logger)
	defer journal.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(reg, "nightshift")

	var h *host.Host
	obsSrv := observer.NewServer(observer.Info{
		StoreID: *storeID,
		Params: protocol.StoreParams{
			TickRateHz:     cfg.TickRateHz,
			DayTicks:       cfg.DayTicks,
			Seed:           cfg.Seed,
			RunDelayMs:     cfg.NightShift.RunDelay.Milliseconds(),
			SettleWindowMs: cfg.NightShift.SettleWindow.Milliseconds(),
		},
		Catalogs: protocol.CatalogDigests{
			ProductsDigest: cats.Products.Digest,
			LayoutDigest:   cats.Layout.Digest,
			TuningDigest:   fileDigest(tp),
		},
		Tick: func() uint64 { return h.CurrentTick() },
	}, logger)

	sinks := nightshift.MultiSink{journal, obsSrv}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	snapCh := make(chan snapshot.StoreV1, 2)
	opts.Clock = nightshift.SystemClock{}
	opts.Logger = logger
	opts.Sink = sinks
	opts.Metrics = collector
	opts.SnapshotSink = snapCh
	h = host.New(cfg, cats, st, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	enableAdminHTTP := envBool("NS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("NS_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		api := &adminAPI{storeID: *storeID, host: h, index: idx}
		api.register(mux)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (NS_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (NS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := h.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		writeSnapshots(gctx, storeDir, snapCh, idx, logger)
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}
	if n := journal.WriteErrors(); n > 0 {
		logger.Printf("journal write errors: %d", n)
	}
}

// writeSnapshots persists snapshots off the host loop. Post-run snapshots are
// also archived per day.
func writeSnapshots(ctx context.Context, storeDir string, snapCh <-chan snapshot.StoreV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapCh:
			path := filepath.Join(storeDir, "snapshots", snapshot.FileName(snap.Header.Tick))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
			day, archivedPath, ok, err := archive.ArchiveDaySnapshot(storeDir, path, snap)
			if err != nil {
				logger.Printf("archive day snapshot: %v", err)
				continue
			}
			if ok {
				logger.Printf("archived day=%d run=%s", day, snap.RunID)
				if idx != nil {
					idx.RecordDay(day, snap.RunID, snap.Header.Tick, archivedPath)
				}
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func latestSnapshot(storeDir string) string {
	dir := filepath.Join(storeDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func fileDigest(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
