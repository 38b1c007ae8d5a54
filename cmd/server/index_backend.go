package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nightshift.ai/internal/persistence/indexdb"
	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	nightshift.EventSink
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.StoreV1)
	RecordDay(day int, runID string, tick uint64, archivedSnapshotPath string)
}

func openRuntimeIndex(storeDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("NS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(storeDir, "index", "store.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported NS_INDEX_BACKEND: %s", backend)
	}
}
