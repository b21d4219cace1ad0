package store

import (
	"context"
	"sync"

	"github.com/luminodash/collab/internal/domain"
)

// Memory is an in-process Store used by tests and single-node dev runs.
type Memory struct {
	mu         sync.Mutex
	dashboards map[domain.RoomID]*Dashboard

	// FailSaves makes every Save return an error while positive,
	// counting down. Lets tests exercise the flush retry path.
	FailSaves int
	SaveCalls int
}

func NewMemory() *Memory {
	return &Memory{dashboards: make(map[domain.RoomID]*Dashboard)}
}

// Put seeds a dashboard, replacing any existing entry.
func (m *Memory) Put(d *Dashboard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.dashboards[d.ID] = &cp
}

// Saves reports how many Save calls the store has seen, successes and
// failures both.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}

func (m *Memory) Load(_ context.Context, id domain.RoomID) (*Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) Save(_ context.Context, id domain.RoomID, layout domain.LayoutSchema, expectedVersion *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.FailSaves > 0 {
		m.FailSaves--
		return 0, context.DeadlineExceeded
	}
	d, ok := m.dashboards[id]
	if !ok {
		return 0, ErrNotFound
	}
	if expectedVersion != nil && *expectedVersion < d.Version {
		return 0, &VersionConflictError{Current: d.Version, Provided: *expectedVersion}
	}
	d.Layout = layout
	d.Version++
	return d.Version, nil
}
