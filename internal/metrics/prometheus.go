package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/store"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	runs        *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	deferrals   *prometheus.CounterVec
	phases      *prometheus.CounterVec
	movedBoxes  prometheus.Counter
	movedUnits  prometheus.Counter
	reconciled  prometheus.Counter
	stalePurged prometheus.Counter
	emptied     prometheus.Counter
	caps        *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastRunSecs prometheus.Gauge
	stable      prometheus.Gauge
	workerState prometheus.Gauge
	lastDay     prometheus.Gauge

	shelfLogical  prometheus.Gauge
	shelfTarget   prometheus.Gauge
	shelfStale    prometheus.Gauge
	backroomUnits prometheus.Gauge
	stepSeconds   prometheus.Histogram
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector. A nil reg uses the default registerer
// and an empty namespace becomes "nightshift".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "nightshift"
	}
	p := &PrometheusCollector{reg: reg, namespace: namespace}
	p.ensureRegistered()
	return p
}

func (p *PrometheusCollector) counterVec(sub, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: p.namespace, Subsystem: sub, Name: name, Help: help}, labels)
}

func (p *PrometheusCollector) counter(sub, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: p.namespace, Subsystem: sub, Name: name, Help: help})
}

func (p *PrometheusCollector) gauge(sub, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: p.namespace, Subsystem: sub, Name: name, Help: help})
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.runs = p.counterVec("runs", "finished_total", "Finished runs by outcome and reason.", "state", "reason")
		p.rejections = p.counterVec("scheduler", "rejections_total", "Schedule requests refused, by code.", "code")
		p.deferrals = p.counterVec("scheduler", "deferrals_total", "Schedule requests held for retry, by code.", "code")
		p.phases = p.counterVec("runs", "phase_transitions_total", "Worker phase entries by target state.", "to")
		p.movedBoxes = p.counter("restock", "moved_boxes_total", "Boxes emptied onto shelves.")
		p.movedUnits = p.counter("restock", "moved_units_total", "Units moved from racks to shelves.")
		p.reconciled = p.counter("reconcile", "adjusted_slots_total", "Display slots whose logical count was corrected.")
		p.stalePurged = p.counter("reconcile", "stale_purged_total", "Stale instance entries removed.")
		p.emptied = p.counter("cleanup", "empty_boxes_removed_total", "Empty boxes removed from racks.")
		p.caps = p.counterVec("runs", "capped_total", "Runs that hit a cap, by cap.", "cap")
		p.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~80s
		})
		p.lastRunSecs = p.gauge("runs", "last_duration_seconds", "Duration of the most recent finished run.")
		p.stable = p.gauge("gate", "stable", "1 while the environment is settled.")
		p.workerState = p.gauge("runs", "worker_state", "Active worker state as its ordinal; -1 when idle.")
		p.lastDay = p.gauge("scheduler", "last_processed_day", "Most recent day restocked to completion.")
		p.shelfLogical = p.gauge("store", "shelf_logical_units", "Units shelves report holding.")
		p.shelfTarget = p.gauge("store", "shelf_target_units", "Units shelves hold when full.")
		p.shelfStale = p.gauge("store", "shelf_stale_entries", "Destroyed instances still referenced by shelves.")
		p.backroomUnits = p.gauge("store", "backroom_units", "Units boxed on racks.")
		p.stepSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "host",
			Name:      "step_seconds",
			Help:      "Host tick duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us .. ~200ms
		})
		p.workerState.Set(-1)

		p.reg.MustRegister(
			p.runs, p.rejections, p.deferrals, p.phases,
			p.movedBoxes, p.movedUnits, p.reconciled, p.stalePurged, p.emptied, p.caps,
			p.runDuration, p.lastRunSecs, p.stable, p.workerState, p.lastDay,
			p.shelfLogical, p.shelfTarget, p.shelfStale, p.backroomUnits, p.stepSeconds,
		)
	})
}

func (p *PrometheusCollector) OnEvent(e nightshift.Event) {
	switch e.Kind {
	case nightshift.EventStable:
		p.stable.Set(1)
	case nightshift.EventUnstable:
		p.stable.Set(0)
	case nightshift.EventRejected:
		p.rejections.WithLabelValues(e.Code).Inc()
	case nightshift.EventDeferred:
		p.deferrals.WithLabelValues(e.Code).Inc()
	case nightshift.EventPhase:
		if e.To != nil {
			p.phases.WithLabelValues(e.To.String()).Inc()
			p.workerState.Set(float64(*e.To))
		}
	case nightshift.EventFinished:
		p.workerState.Set(-1)
		res := e.Result
		if res == nil {
			return
		}
		p.runs.WithLabelValues(res.State.String(), res.Reason).Inc()
		if res.State == nightshift.StateDone {
			p.lastDay.Set(float64(res.Day))
		}
		st := res.Stats
		p.movedBoxes.Add(float64(st.MovedBoxes))
		p.movedUnits.Add(float64(st.MovedUnits))
		p.reconciled.Add(float64(st.ReconcileAdjusted))
		p.stalePurged.Add(float64(st.StalePurged))
		p.emptied.Add(float64(st.EmptyBoxesRemoved))
		if st.Capped {
			p.caps.WithLabelValues(st.CapReason).Inc()
		}
		secs := res.Elapsed.Seconds()
		p.runDuration.Observe(secs)
		p.lastRunSecs.Set(secs)
	}
}

func (p *PrometheusCollector) ObserveStore(t store.Totals) {
	p.shelfLogical.Set(float64(t.ShelfLogical))
	p.shelfTarget.Set(float64(t.ShelfTarget))
	p.shelfStale.Set(float64(t.ShelfStale))
	p.backroomUnits.Set(float64(t.BackroomUnits))
}

func (p *PrometheusCollector) ObserveStep(seconds float64) {
	p.stepSeconds.Observe(seconds)
}
