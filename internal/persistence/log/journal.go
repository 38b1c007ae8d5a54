package log

import (
	stdlog "log"
	"path/filepath"
	"sort"
	"sync/atomic"

	"nightshift.ai/internal/sim/nightshift"
)

// Journal records every runtime event as one compressed JSON line.
type Journal struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger
	errs   atomic.Uint64
}

func JournalDir(dataDir string) string { return filepath.Join(dataDir, "journal") }

func NewJournal(dataDir string, logger *stdlog.Logger) *Journal {
	return &Journal{w: NewJSONLZstdWriter(JournalDir(dataDir), "events"), logger: logger}
}

func (j *Journal) OnEvent(e nightshift.Event) {
	if err := j.w.Write(e); err != nil {
		// Log the first failure and every 100th after it.
		if n := j.errs.Add(1); n%100 == 1 && j.logger != nil {
			j.logger.Printf("journal write (%d failures): %v", n, err)
		}
	}
}

// WriteErrors counts events that could not be journaled.
func (j *Journal) WriteErrors() uint64 { return j.errs.Load() }
func (j *Journal) Close() error        { return j.w.Close() }

// JournalFiles lists journal files oldest first.
func JournalFiles(dataDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(JournalDir(dataDir), "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadEvents replays every journaled event in file order.
func ReadEvents(dataDir string, fn func(nightshift.Event) error) error {
	files, err := JournalFiles(dataDir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ReadJSONL(path, fn); err != nil {
			return err
		}
	}
	return nil
}
