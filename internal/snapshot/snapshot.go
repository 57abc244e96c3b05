package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"foodledger/internal/state"
)

// FileName is the per-snapshot state file inside <baseDir>/<snapshotID>/.
const FileName = "state.json"

type Snapshotter interface {
	WriteSnapshot(snapshotID string, st state.Store) (state.Dump, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// WriteSnapshot dumps st to disk and returns what was written.
// The file is written under a temp name and renamed so readers never see a partial snapshot.
func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, st state.Store) (state.Dump, error) {
	dump, err := state.Snapshot(st)
	if err != nil {
		return state.Dump{}, err
	}
	dir := filepath.Join(f.baseDir, snapshotID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return state.Dump{}, fmt.Errorf("mkdir: %w", err)
	}
	b, err := Encode(dump)
	if err != nil {
		return state.Dump{}, err
	}
	tmp := filepath.Join(dir, FileName+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return state.Dump{}, fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, FileName)); err != nil {
		return state.Dump{}, fmt.Errorf("rename: %w", err)
	}
	return dump, nil
}

// Encode renders a dump in the on-disk snapshot format.
func Encode(d state.Dump) ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return append(b, '\n'), nil
}

// Read loads <baseDir>/<snapshotID>/state.json.
func Read(baseDir, snapshotID string) (state.Dump, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, snapshotID, FileName))
	if err != nil {
		return state.Dump{}, err
	}
	var d state.Dump
	if err := json.Unmarshal(data, &d); err != nil {
		return state.Dump{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return d, nil
}
