// Package summary persists completed interview summaries.
package summary

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/telehealth-ai-platform/internal/session"
)

// ErrNotFound is returned when no summary exists for a patient.
var ErrNotFound = errors.New("summary: not found")

// Record is a finished interview: the model's summary plus the exchange
// that produced it.
type Record struct {
	PatientID    string            `json:"patientId"`
	Summary      string            `json:"summary"`
	Conversation []session.Message `json:"conversation"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Store saves summary records.
type Store interface {
	Save(ctx context.Context, rec Record) error
}

// Reader loads the latest summary for a patient.
type Reader interface {
	Get(ctx context.Context, patientID string) (Record, error)
}

// MemoryStore keeps the latest record per patient and every saved entry.
type MemoryStore struct {
	mu      sync.Mutex
	latest  map[string]Record
	entries []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[rec.PatientID] = rec
	m.entries = append(m.entries, rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, patientID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latest[patientID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Entries returns every saved record in order.
func (m *MemoryStore) Entries() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.entries))
	copy(out, m.entries)
	return out
}

// Multi saves to each store in order and stops at the first error.
type Multi []Store

func (m Multi) Save(ctx context.Context, rec Record) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Get reads from the first store that supports reads.
func (m Multi) Get(ctx context.Context, patientID string) (Record, error) {
	for _, s := range m {
		if r, ok := s.(Reader); ok {
			return r.Get(ctx, patientID)
		}
	}
	return Record{}, ErrNotFound
}
