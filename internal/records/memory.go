package records

import (
	"context"
	"sync"
	"time"
)

// Memory is a map backed record store for a single process.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record
	down    bool

	// BeforeSave is called with the record name before every save, outside
	// the lock, so a test can interleave a concurrent writer.
	BeforeSave func(name string)
}

// NewMemory creates an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

// SetDown makes Status fail, simulating an unreachable store.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *Memory) Status(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrNotConfigured
	}
	return nil
}

func (m *Memory) Fetch(ctx context.Context, name string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, ErrUnknownRecord
	}
	return rec.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, rec *Record, keys []string) (*Record, error) {
	if m.BeforeSave != nil {
		m.BeforeSave(rec.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := prepareSave(m.records[rec.Name], rec, keys, time.Now())
	if err != nil {
		return nil, err
	}
	m.records[rec.Name] = out
	return out.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
	return nil
}

func (m *Memory) Query(ctx context.Context, kind Kind, pred *Predicate) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, name := range sortedNames(m.records) {
		if rec := m.records[name]; rec.Kind == kind {
			out = append(out, rec.Clone())
		}
	}
	return filter(out, pred), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }
