package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightshift.ai/internal/sim/nightshift"
)

func TestRepoTuningMatchesDefaults(t *testing.T) {
	got, err := Load("../../../configs/tuning.yaml")
	require.NoError(t, err)
	require.Equal(t, Defaults(), got)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_rate_hz: 60\nnightshift:\n  ops_per_tick: 200\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 60, got.TickRateHz)
	require.Equal(t, 200, got.NightShift.OpsPerTick)
	require.Equal(t, Defaults().DayTicks, got.DayTicks)
	require.Equal(t, 6000, got.NightShift.RunDelayMs)
	require.Contains(t, got.NightShift.Policies, nightshift.ReasonManual)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, body := range map[string]string{
		"tick rate":    "tick_rate_hz: 0\n",
		"ops":          "nightshift:\n  ops_per_tick: -1\n",
		"cleanup":      "nightshift:\n  cleanup_window_ms: -1\n",
		"policy delay": "nightshift:\n  policies:\n    Manual:\n      delay_ms: -5\n",
		"bad yaml":     "tick_rate_hz: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tuning.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestNightShiftConfig(t *testing.T) {
	cfg := Defaults().NightShift.Config()
	require.Equal(t, 6*time.Second, cfg.RunDelay)
	require.Equal(t, 4*time.Millisecond, cfg.TickBudget)
	require.Equal(t, 2500, cfg.MaxRacksToClean)
	require.Equal(t, 30*time.Second, cfg.CleanupWindow)

	manual := cfg.Policies[nightshift.ReasonManual]
	require.Equal(t, 50*time.Millisecond, manual.Delay)
	require.True(t, manual.SkipVisualRebuild)
	require.True(t, manual.AllowRepeatDay)
	require.NotNil(t, cfg.NonSellable)
}
