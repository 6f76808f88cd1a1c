package manager

import (
	"context"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"artifactd/pkg/types"
)

type Manager struct {
	mu      sync.Mutex
	catalog map[string]types.Descriptor
	order   []string
	entries map[string]*entry
	// loadedMB sums FootprintMB over loaded records; pendingMB sums
	// reservations of loading entries. Both change only with entries.
	loadedMB  int
	pendingMB int
	loaders   map[types.Category]Loader

	memory     MemorySource
	clock      clock.Clock
	lowMB      int
	criticalMB int
	interval   time.Duration
	inactivity time.Duration

	pressure    PressureLevel
	lastAvailMB int
	lastProcMB  int
	foreground  bool

	// flights serializes loads per artifact id.
	flights singleflight.Group

	usagePath string
	usage     map[string]usageRecord
	saveMu    sync.Mutex

	loadsTotal     uint64
	evictionsTotal uint64
	startTime      time.Time

	publisher EventPublisher
	log       zerolog.Logger

	stopMonitors context.CancelFunc
	monitorsDone chan struct{}
	// closed is set by Close; no record is admitted afterwards.
	closed bool
}

// RegisterLoader installs (or replaces) the loader for a category.
func (m *Manager) RegisterLoader(c types.Category, l Loader) {
	m.mu.Lock()
	m.loaders[c] = l
	m.mu.Unlock()
}

// Descriptor looks up an artifact in the catalog.
func (m *Manager) Descriptor(id string) (types.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.catalog[id]
	return d, ok
}

// ListArtifacts returns the catalog in declaration order.
func (m *Manager) ListArtifacts() []types.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Descriptor, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.catalog[id])
	}
	return out
}

// IsLoaded reports whether id has a live record.
func (m *Manager) IsLoaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	return e != nil && e.state == StateLoaded
}

// State returns the lifecycle state of id and, when failed, the failure.
func (m *Manager) State(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return StateUnloaded, nil
	}
	return e.state, e.err
}

// GetHandle returns the live handle for id and records the access. Callers
// must re-request the handle for every use instead of retaining it.
func (m *Manager) GetHandle(id string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil || e.state != StateLoaded {
		return nil, false
	}
	e.record.LastAccess = m.clock.Now()
	return e.record.handle, true
}

// HandleAs is GetHandle with a type assertion to the category's handle type.
func HandleAs[T any](m *Manager, id string) (T, bool) {
	var zero T
	h, ok := m.GetHandle(id)
	if !ok {
		return zero, false
	}
	t, ok := h.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// LoadedRecords returns copies of the loaded records (handles omitted).
func (m *Manager) LoadedRecords() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.entries))
	for _, e := range m.entries {
		if e.state == StateLoaded {
			r := *e.record
			r.handle = nil
			out = append(out, r)
		}
	}
	return out
}

// LoadedMB returns the tracked footprint of loaded artifacts.
func (m *Manager) LoadedMB() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedMB
}
