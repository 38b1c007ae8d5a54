package nightshift

import (
	"fmt"
	"log"
	"time"
)

// Gate holds runs off until the environment identity has been unchanged for a
// full settle window. It starts unstable.
type Gate struct {
	clock  Clock
	log    *log.Logger
	window time.Duration

	known      bool
	ident      Identity
	readErr    bool
	lastChange time.Time

	onUnstable []func(reason string)
}

func NewGate(clock Clock, window time.Duration, logger *log.Logger) *Gate {
	return &Gate{
		clock:      clock,
		log:        orDiscard(logger),
		window:     window,
		lastChange: clock.Now(),
	}
}

// OnUnstable registers a callback run on every observed change.
func (g *Gate) OnUnstable(fn func(reason string)) {
	g.onUnstable = append(g.onUnstable, fn)
}

// Observe records one identity reading and reports whether it counted as a
// change. A failed read is a change; repeated failures keep the window open.
func (g *Gate) Observe(id Identity, err error) bool {
	if err != nil {
		first := !g.readErr
		g.readErr = true
		g.known = false
		g.mark(fmt.Sprintf("identity unavailable: %v", err), first)
		return true
	}
	if g.readErr {
		g.readErr = false
		g.known = true
		g.ident = id
		g.mark(fmt.Sprintf("identity restored handle=%d loaded=%d", id.Handle, id.Loaded), true)
		return true
	}
	if !g.known {
		g.known = true
		g.ident = id
		return false
	}
	if id == g.ident {
		return false
	}
	prev := g.ident
	g.ident = id
	g.mark(fmt.Sprintf("environment changed handle %d->%d loaded %d->%d",
		prev.Handle, id.Handle, prev.Loaded, id.Loaded), true)
	return true
}

// mark restarts the settle window. Callbacks only fire for the first of a
// run of failed reads.
func (g *Gate) mark(reason string, notify bool) {
	g.lastChange = g.clock.Now()
	if !notify {
		return
	}
	g.log.Printf("gate: %s, settling until %s", reason, g.StableAt().Format(time.RFC3339Nano))
	for _, fn := range g.onUnstable {
		fn(reason)
	}
}

func (g *Gate) IsStable() bool {
	if g.readErr {
		return false
	}
	return !g.clock.Now().Before(g.StableAt())
}

func (g *Gate) StableAt() time.Time { return g.lastChange.Add(g.window) }

func (g *Gate) Identity() Identity { return g.ident }
