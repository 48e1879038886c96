// Package testutil obsahuje pomocné implementace pro testy (in-memory store).
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"road-telemetry/internal/store"
	"road-telemetry/internal/telemetry"
)

// MemoryStore implementuje store.Store v paměti.
// InsertBatch je atomický: při chybě se nepřidá žádný řádek a ID se nespotřebují.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[int64]telemetry.PersistedRecord
	nextID int64

	// FailAt > 0 způsobí selhání InsertBatch na řádku s tímto pořadím (1 = první).
	FailAt int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[int64]telemetry.PersistedRecord),
		nextID: 1,
	}
}

func (m *MemoryStore) InsertBatch(ctx context.Context, batch []telemetry.ValidatedRecord) ([]telemetry.PersistedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Nejdřív připravit celou dávku, teprve pak zapsat.
	out := make([]telemetry.PersistedRecord, 0, len(batch))
	id := m.nextID
	for i, r := range batch {
		if m.FailAt > 0 && i+1 == m.FailAt {
			return nil, fmt.Errorf("%w: insert řádku %d: vynucená chyba", store.ErrPersistence, i)
		}
		rec := telemetry.FromValidated(r)
		rec.ID = id
		id++
		out = append(out, rec)
	}

	for _, rec := range out {
		m.rows[rec.ID] = rec
	}
	m.nextID = id
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (telemetry.PersistedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rows[id]
	if !ok {
		return rec, fmt.Errorf("%w: id %d", store.ErrNotFound, id)
	}
	return rec, nil
}

func (m *MemoryStore) List(_ context.Context) ([]telemetry.PersistedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]telemetry.PersistedRecord, 0, len(m.rows))
	for _, rec := range m.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, id int64, r telemetry.ValidatedRecord) (telemetry.PersistedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[id]; !ok {
		return telemetry.PersistedRecord{}, fmt.Errorf("%w: id %d", store.ErrNotFound, id)
	}
	rec := telemetry.FromValidated(r)
	rec.ID = id
	m.rows[id] = rec
	return rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) (telemetry.PersistedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.rows[id]
	if !ok {
		return rec, fmt.Errorf("%w: id %d", store.ErrNotFound, id)
	}
	delete(m.rows, id)
	return rec, nil
}

// Len vrátí počet uložených řádků.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

var _ store.Store = (*MemoryStore)(nil)
