package nightshift

import "time"

// Run reasons.
const (
	ReasonDayTransition = "DayTransition"
	ReasonManual        = "Manual"
	ReasonDayEndHook    = "DayEndHook"
)

// NoDay is the last-processed day before any run completed.
const NoDay = -1

type Config struct {
	RunDelay        time.Duration
	DayPollInterval time.Duration
	SettleWindow    time.Duration
	HeartbeatEvery  time.Duration

	OpsPerTick int
	TickBudget time.Duration

	MaxTotal time.Duration
	// CleanupWindow bounds Cleanup after the wall-clock cap fires. Zero
	// means a quarter of MaxTotal.
	CleanupWindow       time.Duration
	MaxOuterLoops       int
	MaxRacksToClean     int
	MaxTransfersPerSlot int

	// NonSellable excludes racks from the restock index.
	NonSellable RackFilter

	// Policies overrides per run reason. Unknown reasons use the zero policy.
	Policies map[string]RunPolicy
}

// RunPolicy adjusts a run by its reason. Zero durations and counts inherit
// the Config values.
type RunPolicy struct {
	Delay             time.Duration
	SkipVisualRebuild bool
	AllowRepeatDay    bool
	OpsPerTick        int
	TickBudget        time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunDelay:            6 * time.Second,
		DayPollInterval:     500 * time.Millisecond,
		SettleWindow:        3 * time.Second,
		HeartbeatEvery:      10 * time.Second,
		OpsPerTick:          50,
		TickBudget:          4 * time.Millisecond,
		MaxTotal:            120 * time.Second,
		CleanupWindow:       30 * time.Second,
		MaxOuterLoops:       12,
		MaxRacksToClean:     2500,
		MaxTransfersPerSlot: 20,
		NonSellable:         ExcludeHeights(10),
		Policies: map[string]RunPolicy{
			ReasonManual: {
				Delay:             50 * time.Millisecond,
				SkipVisualRebuild: true,
				AllowRepeatDay:    true,
			},
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RunDelay <= 0 {
		c.RunDelay = d.RunDelay
	}
	if c.DayPollInterval <= 0 {
		c.DayPollInterval = d.DayPollInterval
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = d.SettleWindow
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.OpsPerTick <= 0 {
		c.OpsPerTick = d.OpsPerTick
	}
	if c.TickBudget <= 0 {
		c.TickBudget = d.TickBudget
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = d.MaxTotal
	}
	if c.CleanupWindow <= 0 {
		c.CleanupWindow = c.MaxTotal / 4
	}
	c.CleanupWindow = min(c.CleanupWindow, c.MaxTotal)
	if c.MaxOuterLoops <= 0 {
		c.MaxOuterLoops = d.MaxOuterLoops
	}
	if c.MaxRacksToClean <= 0 {
		c.MaxRacksToClean = d.MaxRacksToClean
	}
	if c.MaxTransfersPerSlot <= 0 {
		c.MaxTransfersPerSlot = d.MaxTransfersPerSlot
	}
	return c
}

func (c Config) policy(reason string) RunPolicy {
	p := c.Policies[reason]
	if p.Delay <= 0 {
		p.Delay = c.RunDelay
	}
	if p.OpsPerTick <= 0 {
		p.OpsPerTick = c.OpsPerTick
	}
	if p.TickBudget <= 0 {
		p.TickBudget = c.TickBudget
	}
	return p
}
