package diag

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type snapshot struct {
	Positions []Record `yaml:"positions"`
}

// Snapshot writes every registered record, in registration order, as YAML.
func (r *Registry) Snapshot(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snapshot{Positions: r.snapshotRecords()}); err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}
	return enc.Close()
}

// Load builds a registry from a snapshot written by Snapshot, so identifiers
// embedded by one process can be translated by another.
func Load(rd io.Reader, logger *zap.Logger) (*Registry, error) {
	var snap snapshot
	if err := yaml.NewDecoder(rd).Decode(&snap); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}

	r := NewRegistry(logger)
	for _, rec := range snap.Positions {
		if rec.ID == "" {
			return nil, errors.New("position without identifier")
		}
		if _, dup := r.records[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate position identifier %q", rec.ID)
		}
		r.records[rec.ID] = rec
		r.order = append(r.order, rec.ID)
	}
	return r, nil
}

// LoadFile reads a snapshot from path.
func LoadFile(path string, logger *zap.Logger) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open positions file: %w", err)
	}
	defer f.Close()
	return Load(f, logger)
}
