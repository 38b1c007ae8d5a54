// Package metrics exports night shift and host signals.
package metrics

import (
	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/store"
)

// Collector receives runtime events and periodic host samples.
type Collector interface {
	nightshift.EventSink
	ObserveStore(t store.Totals)
	ObserveStep(seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

func NewNop() *NopMetrics { return &NopMetrics{} }

func (n *NopMetrics) OnEvent(nightshift.Event)  {}
func (n *NopMetrics) ObserveStore(store.Totals) {}
func (n *NopMetrics) ObserveStep(float64)       {}
