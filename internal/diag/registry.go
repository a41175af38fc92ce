package diag

import (
	"sync"

	"github.com/gnoswap-labs/tverify/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Position is handed to the encoder for embedding into the program text.
// ID is the opaque identifier the backend echoes back on failure.
type Position struct {
	ID     string
	Line   int
	Column int
}

// Record is what the registry remembers about one proof obligation.
type Record struct {
	ID      string       `yaml:"id"`
	Span    types.Span   `yaml:"span"`
	Context ErrorContext `yaml:"context"`
}

// Registry maps position identifiers to the span and context of the
// obligation they were generated for. It is append-only and safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	logger  *zap.Logger
	newID   func() string
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		records: make(map[string]Record),
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Register stores span and ctx under a fresh identifier.
func (r *Registry) Register(span types.Span, ctx ErrorContext) Position {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.records[id]; !taken {
			break
		}
		id = r.newID()
	}

	r.records[id] = Record{ID: id, Span: span, Context: ctx}
	r.order = append(r.order, id)

	pos := Position{ID: id, Line: span.Start.Line, Column: span.Start.Column}
	r.logger.Debug("registered position",
		zap.String("id", id),
		zap.Stringer("context", ctx),
		zap.Int("line", pos.Line),
		zap.Int("column", pos.Column),
	)
	return pos
}

// Lookup returns the record registered under id.
func (r *Registry) Lookup(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Len returns the number of registered positions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) snapshotRecords() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}
