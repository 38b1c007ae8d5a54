package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"nightshift.ai/internal/persistence/snapshot"
)

type DayArchiveMeta struct {
	Day       int    `json:"day"`
	RunID     string `json:"run_id"`
	Tick      uint64 `json:"tick"`
	Seed      int64  `json:"seed"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
	DayTicks  int    `json:"day_ticks"`
}

// Dir is the archive directory for a processed day.
func Dir(dataDir string, day int) string {
	return filepath.Join(dataDir, "archives", fmt.Sprintf("day_%04d", day))
}

// ArchiveDaySnapshot copies a post-run snapshot into `dataDir/archives/day_<NNNN>/`.
// Snapshots not taken right after a completed run are ignored (archived=false).
func ArchiveDaySnapshot(dataDir, snapshotPath string, snap snapshot.StoreV1) (day int, archivedPath string, archived bool, err error) {
	if snap.RunID == "" || snap.RunDay <= 0 {
		return 0, "", false, nil
	}
	day = snap.RunDay

	archiveDir := Dir(dataDir, day)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := DayArchiveMeta{
		Day:       day,
		RunID:     snap.RunID,
		Tick:      snap.Header.Tick,
		Seed:      snap.Seed,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		DayTicks:  snap.DayTicks,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return day, dst, true, nil
}

// ReadMeta loads the meta.json of an archived day.
func ReadMeta(dataDir string, day int) (DayArchiveMeta, error) {
	var m DayArchiveMeta
	b, err := os.ReadFile(filepath.Join(Dir(dataDir, day), "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
