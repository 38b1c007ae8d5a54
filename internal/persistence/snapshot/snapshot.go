package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	StoreID string `json:"store_id"`
	Tick    uint64 `json:"tick"`
	Day     int    `json:"day"`
}

// StoreV1 is the full store state. Stale display entries are not persisted:
// a restored store starts with a clean scene.
type StoreV1 struct {
	Header Header `json:"header"`

	Seed             int64  `json:"seed"`
	TickRate         int    `json:"tick_rate_hz"`
	DayTicks         int    `json:"day_ticks"`
	LastProcessedDay int    `json:"last_processed_day"`
	SceneHandle      int64  `json:"scene_handle"`
	NextID           uint64 `json:"next_id"`

	// RunID and RunDay are set on the snapshot taken right after a run
	// completes; such snapshots are archived per day.
	RunID  string `json:"run_id,omitempty"`
	RunDay int    `json:"run_day,omitempty"`

	ProductsDigest string `json:"products_digest"`
	LayoutDigest   string `json:"layout_digest"`

	Racks    []RackV1    `json:"racks"`
	Displays []DisplayV1 `json:"displays"`
}

type RackV1 struct {
	ID     string       `json:"id"`
	Height float64      `json:"height"`
	Slots  []RackSlotV1 `json:"slots"`
}

type RackSlotV1 struct {
	Product int     `json:"product"`
	Boxes   []BoxV1 `json:"boxes"`
}

type BoxV1 struct {
	ID    string `json:"id"`
	Units int    `json:"units"`
}

type DisplayV1 struct {
	ID      string `json:"id"`
	Product int    `json:"product"`
	Logical int    `json:"logical"`
	Active  int    `json:"active"`
	Hidden  int    `json:"hidden"`
}

func WriteSnapshot(path string, snap StoreV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (StoreV1, error) {
	var snap StoreV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

// FileName is the on-disk name for a snapshot taken at tick.
func FileName(tick uint64) string { return fmt.Sprintf("%d.snap.zst", tick) }
