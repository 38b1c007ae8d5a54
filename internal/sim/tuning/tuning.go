package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"nightshift.ai/internal/sim/nightshift"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int   `yaml:"tick_rate_hz"`
	DayTicks           int   `yaml:"day_ticks"`
	SalesPerDay        int   `yaml:"sales_per_day"`
	ReloadTicks        int   `yaml:"reload_ticks"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks"`
	Seed               int64 `yaml:"seed"`

	NightShift NightShift `yaml:"nightshift"`
}

type NightShift struct {
	RunDelayMs          int       `yaml:"run_delay_ms"`
	DayPollMs           int       `yaml:"day_poll_ms"`
	SettleWindowMs      int       `yaml:"settle_window_ms"`
	HeartbeatMs         int       `yaml:"heartbeat_ms"`
	OpsPerTick          int       `yaml:"ops_per_tick"`
	TickBudgetMs        int       `yaml:"tick_budget_ms"`
	MaxTotalMs          int       `yaml:"max_total_ms"`
	CleanupWindowMs     int       `yaml:"cleanup_window_ms"`
	MaxOuterLoops       int       `yaml:"max_outer_loops"`
	MaxRacksToClean     int       `yaml:"max_racks_to_clean"`
	MaxTransfersPerSlot int       `yaml:"max_transfers_per_slot"`
	NonSellableHeights  []float64 `yaml:"non_sellable_heights"`

	Policies map[string]Policy `yaml:"policies"`
}

type Policy struct {
	DelayMs           int  `yaml:"delay_ms"`
	SkipVisualRebuild bool `yaml:"skip_visual_rebuild"`
	AllowRepeatDay    bool `yaml:"allow_repeat_day"`
	OpsPerTick        int  `yaml:"ops_per_tick"`
	TickBudgetMs      int  `yaml:"tick_budget_ms"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		DayTicks:           12000,
		SalesPerDay:        240,
		ReloadTicks:        40,
		SnapshotEveryTicks: 3000,
		Seed:               1337,
		NightShift: NightShift{
			RunDelayMs:          6000,
			DayPollMs:           500,
			SettleWindowMs:      3000,
			HeartbeatMs:         10000,
			OpsPerTick:          50,
			TickBudgetMs:        4,
			MaxTotalMs:          120000,
			CleanupWindowMs:     30000,
			MaxOuterLoops:       12,
			MaxRacksToClean:     2500,
			MaxTransfersPerSlot: 20,
			NonSellableHeights:  []float64{10},
			Policies: map[string]Policy{
				nightshift.ReasonManual: {DelayMs: 50, SkipVisualRebuild: true, AllowRepeatDay: true},
			},
		},
	}
}

// Load reads path over Defaults(); keys absent from the file keep their
// default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.DayTicks <= 0 {
		return fmt.Errorf("day_ticks must be > 0")
	}
	if t.SalesPerDay < 0 || t.ReloadTicks < 0 || t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("negative tick or sales count")
	}
	n := t.NightShift
	for name, v := range map[string]int{
		"run_delay_ms":           n.RunDelayMs,
		"day_poll_ms":            n.DayPollMs,
		"settle_window_ms":       n.SettleWindowMs,
		"heartbeat_ms":           n.HeartbeatMs,
		"ops_per_tick":           n.OpsPerTick,
		"tick_budget_ms":         n.TickBudgetMs,
		"max_total_ms":           n.MaxTotalMs,
		"max_outer_loops":        n.MaxOuterLoops,
		"max_racks_to_clean":     n.MaxRacksToClean,
		"max_transfers_per_slot": n.MaxTransfersPerSlot,
	} {
		if v <= 0 {
			return fmt.Errorf("nightshift.%s must be > 0", name)
		}
	}
	if n.CleanupWindowMs < 0 {
		return fmt.Errorf("nightshift.cleanup_window_ms must be >= 0")
	}
	for reason, p := range n.Policies {
		if p.DelayMs < 0 || p.OpsPerTick < 0 || p.TickBudgetMs < 0 {
			return fmt.Errorf("nightshift.policies.%s: negative value", reason)
		}
	}
	return nil
}

// Config converts the yaml block into the runtime configuration.
func (n NightShift) Config() nightshift.Config {
	cfg := nightshift.Config{
		RunDelay:            ms(n.RunDelayMs),
		DayPollInterval:     ms(n.DayPollMs),
		SettleWindow:        ms(n.SettleWindowMs),
		HeartbeatEvery:      ms(n.HeartbeatMs),
		OpsPerTick:          n.OpsPerTick,
		TickBudget:          ms(n.TickBudgetMs),
		MaxTotal:            ms(n.MaxTotalMs),
		CleanupWindow:       ms(n.CleanupWindowMs),
		MaxOuterLoops:       n.MaxOuterLoops,
		MaxRacksToClean:     n.MaxRacksToClean,
		MaxTransfersPerSlot: n.MaxTransfersPerSlot,
		NonSellable:         nightshift.ExcludeHeights(n.NonSellableHeights...),
		Policies:            make(map[string]nightshift.RunPolicy, len(n.Policies)),
	}
	for reason, p := range n.Policies {
		cfg.Policies[reason] = nightshift.RunPolicy{
			Delay:             ms(p.DelayMs),
			SkipVisualRebuild: p.SkipVisualRebuild,
			AllowRepeatDay:    p.AllowRepeatDay,
			OpsPerTick:        p.OpsPerTick,
			TickBudget:        ms(p.TickBudgetMs),
		}
	}
	return cfg
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
