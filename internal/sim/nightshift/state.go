package nightshift

import (
	"fmt"
	"time"
)

type State uint8

const (
	StateWaitingDelay State = iota
	StateInit
	StateRestock
	StateReconcile
	StateVisualRepair
	StateVisualRebuild
	StateCleanup
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateWaitingDelay:  "WaitingDelay",
	StateInit:          "Init",
	StateRestock:       "Restock",
	StateReconcile:     "Reconcile",
	StateVisualRepair:  "VisualRepair",
	StateVisualRebuild: "VisualRebuild",
	StateCleanup:       "Cleanup",
	StateDone:          "Done",
	StateAborted:       "Aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

func (s State) Terminal() bool { return s == StateDone || s == StateAborted }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", b)
}

// Stats are the per-run counters reported when a run finishes.
type Stats struct {
	ProductsIndexed  int `json:"products_indexed"`
	RackSlotsIndexed int `json:"rack_slots_indexed"`
	RackSlotsSkipped int `json:"rack_slots_skipped"`

	OuterLoops          int `json:"outer_loops"`
	DisplaySlotsScanned int `json:"display_slots_scanned"`
	Transfers           int `json:"transfers"`
	MovedBoxes          int `json:"moved_boxes"`
	MovedUnits          int `json:"moved_units"`
	TransferFailures    int `json:"transfer_failures"`

	ReconcileScanned  int `json:"reconcile_scanned"`
	ReconcileAdjusted int `json:"reconcile_adjusted"`
	StalePurged       int `json:"stale_purged"`

	RepairAdjusted  int `json:"repair_adjusted"`
	RepairRespawned int `json:"repair_respawned"`

	RebuildSkipped   bool `json:"rebuild_skipped,omitempty"`
	RebuildSlots     int  `json:"rebuild_slots"`
	RebuildRespawned int  `json:"rebuild_respawned"`

	CleanupSkipped    bool `json:"cleanup_skipped,omitempty"`
	RacksScanned      int  `json:"racks_scanned"`
	EmptyBoxesRemoved int  `json:"empty_boxes_removed"`

	ItemFailures int    `json:"item_failures"`
	Capped       bool   `json:"capped,omitempty"`
	CapReason    string `json:"cap_reason,omitempty"`
}

type RunResult struct {
	RunID       string        `json:"run_id"`
	Day         int           `json:"day"`
	Reason      string        `json:"reason"`
	State       State         `json:"state"`
	AbortReason string        `json:"abort_reason,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Ticks       int           `json:"ticks"`
	Stats       Stats         `json:"stats"`
}
