package nightshift

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateBootsUnstableThenSettles(t *testing.T) {
	clock := NewManualClock(testEpoch)
	g := NewGate(clock, 3*time.Second, nil)

	require.False(t, g.Observe(Identity{Handle: 9, Loaded: 1}, nil))
	require.False(t, g.IsStable())

	clock.Advance(2999 * time.Millisecond)
	require.False(t, g.IsStable())
	clock.Advance(time.Millisecond)
	require.True(t, g.IsStable())
}

func TestGateChangeRestartsWindowAndNotifies(t *testing.T) {
	clock := NewManualClock(testEpoch)
	g := NewGate(clock, 3*time.Second, nil)
	var reasons []string
	g.OnUnstable(func(r string) { reasons = append(reasons, r) })

	g.Observe(Identity{Handle: 1, Loaded: 1}, nil)
	clock.Advance(5 * time.Second)
	require.True(t, g.IsStable())

	require.True(t, g.Observe(Identity{Handle: 2, Loaded: 1}, nil))
	require.False(t, g.IsStable())
	require.Len(t, reasons, 1)
	require.Contains(t, reasons[0], "handle 1->2")

	// A second change two seconds later pushes the window out again.
	clock.Advance(2 * time.Second)
	require.True(t, g.Observe(Identity{Handle: 2, Loaded: 2}, nil))
	clock.Advance(2 * time.Second)
	require.False(t, g.IsStable())
	clock.Advance(time.Second)
	require.True(t, g.IsStable())
	require.Len(t, reasons, 2)

	require.False(t, g.Observe(Identity{Handle: 2, Loaded: 2}, nil))
	require.Len(t, reasons, 2)
}

func TestGateReadFailureHoldsUnstable(t *testing.T) {
	clock := NewManualClock(testEpoch)
	g := NewGate(clock, time.Second, nil)
	notified := 0
	g.OnUnstable(func(string) { notified++ })

	g.Observe(Identity{Handle: 1, Loaded: 1}, nil)
	clock.Advance(2 * time.Second)
	require.True(t, g.IsStable())

	boom := errors.New("scene manager gone")
	g.Observe(Identity{}, boom)
	clock.Advance(5 * time.Second)
	g.Observe(Identity{}, boom)
	require.False(t, g.IsStable())
	require.Equal(t, 1, notified)

	g.Observe(Identity{Handle: 1, Loaded: 1}, nil)
	require.False(t, g.IsStable())
	require.Equal(t, 2, notified)
	clock.Advance(time.Second)
	require.True(t, g.IsStable())
}
