// Package persist provides durable storage for the state snapshot.
//
// The persisted state is a single named blob holding conversations and
// settings. It is loaded once at process start and rewritten after every
// store mutation. Two backends are available: a local file and a NATS
// JetStream key-value bucket.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/metrics"
)

// FilePersister stores the snapshot blob as a JSON file.
type FilePersister struct {
	path string
}

// NewFilePersister creates a file-backed persister writing to path. Parent
// directories are created if missing.
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Save writes the snapshot, replacing the previous blob atomically.
func (p *FilePersister) Save(snap *store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		metrics.PersistWritesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		metrics.PersistWritesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		metrics.PersistWritesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	metrics.PersistWritesTotal.WithLabelValues("file", "success").Inc()
	return nil
}

// Load reads the snapshot blob. A missing file returns a nil snapshot and
// no error: the process starts fresh.
func (p *FilePersister) Load() (*store.Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
