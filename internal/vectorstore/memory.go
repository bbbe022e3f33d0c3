package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type slot struct {
	mu      sync.RWMutex
	record  Record
	present bool
}

// Memory is an in-process Store. The map lock is held only to find or
// create an entry's slot; reads and writes of the record itself lock just
// that slot, so upserting one entry never waits on readers of another.
type Memory struct {
	mu    sync.RWMutex
	slots map[string]*slot
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{slots: map[string]*slot{}, now: time.Now}
}

func (m *Memory) Upsert(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.EntryID == "" {
		return fmt.Errorf("entry id is required")
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("vector for %q is empty", record.EntryID)
	}
	record = record.clone()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = m.now().UTC()
	}
	for {
		s := m.slotFor(record.EntryID)
		s.mu.Lock()
		// A concurrent Delete may have detached the slot.
		m.mu.RLock()
		current := m.slots[record.EntryID]
		m.mu.RUnlock()
		if current != s {
			s.mu.Unlock()
			continue
		}
		s.record = record
		s.present = true
		s.mu.Unlock()
		return nil
	}
}

func (m *Memory) Get(ctx context.Context, entryID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	s, ok := m.slots[entryID]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.present {
		return Record{}, ErrNotFound
	}
	return s.record.clone(), nil
}

// List returns every record ordered by entry ID.
func (m *Memory) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	out := make([]Record, 0, len(slots))
	for _, s := range slots {
		s.mu.RLock()
		if s.present {
			out = append(out, s.record.clone())
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, entryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	s, ok := m.slots[entryID]
	delete(m.slots, entryID)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.present = false
	s.mu.Unlock()
	return nil
}

func (m *Memory) slotFor(entryID string) *slot {
	m.mu.RLock()
	s, ok := m.slots[entryID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[entryID]; ok {
		return s
	}
	s = &slot{}
	m.slots[entryID] = s
	return s
}
