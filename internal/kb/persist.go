package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const snapshotFormatVersion = 1

// snapshotFile is the on-disk form. Indexes are rebuilt on load from the stored vectors.
type snapshotFile struct {
	FormatVersion int        `json:"format_version"`
	BuiltAt       time.Time  `json:"built_at"`
	Embedder      string     `json:"embedder"`
	Dims          int        `json:"dims"`
	LSH           LSHOptions `json:"lsh"`
	Records       []Record   `json:"records"`
}

// WriteSnapshot encodes s as zstd-compressed JSON.
func WriteSnapshot(w io.Writer, s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	payload := snapshotFile{
		FormatVersion: snapshotFormatVersion,
		BuiltAt:       s.BuiltAt,
		Embedder:      s.Embedder,
		Dims:          s.Dims,
		LSH:           s.LSH,
		Records:       s.records,
	}
	if err := json.NewEncoder(enc).Encode(payload); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot and rebuilds its indexes.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	var payload snapshotFile
	if err := json.NewDecoder(dec).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if payload.FormatVersion != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", payload.FormatVersion)
	}

	s := newSnapshot(payload.Records, payload.Embedder, payload.LSH)
	if !payload.BuiltAt.IsZero() {
		s.BuiltAt = payload.BuiltAt
	}
	return s, nil
}

// SaveSnapshot writes s to path via a temporary file and rename, so watchers never see a partial file.
func SaveSnapshot(path string, s *Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create index folder %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".kb-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteSnapshot(tmp, s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move index into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from path.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %q: %w", path, err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// LoadRecords reads fix records from a JSON array file.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records %q: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records %q: %w", path, err)
	}
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
	}
	return records, nil
}
