package host

import (
	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/store"
)

// HostMetrics is a thread-safe read-only view of the host loop. It is
// updated from the loop goroutine and read from HTTP handlers and tests.
type HostMetrics struct {
	Tick   uint64  `json:"tick"`
	StepMS float64 `json:"step_ms"`

	Store      store.Totals      `json:"store"`
	NightShift nightshift.Status `json:"nightshift"`

	Reloading        bool   `json:"reloading"`
	SoldTotal        uint64 `json:"sold_total"`
	SnapshotsDropped uint64 `json:"snapshots_dropped"`
	QueueDepth       int    `json:"queue_depth"`
}

func (h *Host) Metrics() HostMetrics {
	if h == nil {
		return HostMetrics{}
	}
	m, _ := h.metrics.Load().(HostMetrics)
	return m
}

func (h *Host) publishMetrics(stepMS float64) {
	totals := h.store.Totals()
	h.collector.ObserveStore(totals)
	h.metrics.Store(HostMetrics{
		Tick:             h.tick.Load(),
		StepMS:           stepMS,
		Store:            totals,
		NightShift:       h.rt.Status(),
		Reloading:        h.reloadDone > 0,
		SoldTotal:        h.soldTotal,
		SnapshotsDropped: h.dropped,
		QueueDepth:       len(h.requests),
	})
}
