package manager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/raulk/clock"

	"artifactd/pkg/types"
)

// fakeMemory is a settable memory sensor.
type fakeMemory struct {
	mu    sync.Mutex
	avail int
	err   error
}

func (f *fakeMemory) set(mb int) {
	f.mu.Lock()
	f.avail = mb
	f.mu.Unlock()
}

func (f *fakeMemory) AvailableMB() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avail, f.err
}

func (f *fakeMemory) ProcessMB() (int, error) { return 64, nil }

// fakeLoader counts loads and handle closes per id.
type fakeLoader struct {
	mu     sync.Mutex
	loads  map[string]int
	closes map[string]int
	// gate, when set, blocks Load until closed.
	gate    chan struct{}
	started chan string
	fail    map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{loads: map[string]int{}, closes: map[string]int{}, fail: map[string]error{}}
}

func (l *fakeLoader) Load(ctx context.Context, d types.Descriptor) (Handle, error) {
	l.mu.Lock()
	l.loads[d.ID]++
	err := l.fail[d.ID]
	gate, started := l.gate, l.started
	l.mu.Unlock()
	if started != nil {
		started <- d.ID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeHandle{l: l, id: d.ID}, nil
}

func (l *fakeLoader) loadCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[id]
}

func (l *fakeLoader) closeCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes[id]
}

type fakeHandle struct {
	l  *fakeLoader
	id string
}

func (h *fakeHandle) Close() error {
	h.l.mu.Lock()
	h.l.closes[h.id]++
	h.l.mu.Unlock()
	return nil
}

func desc(id string, p types.Priority, mb int) types.Descriptor {
	return types.Descriptor{ID: id, Category: types.CategoryVision, Priority: p, FootprintMB: mb}
}

type fixture struct {
	m      *Manager
	loader *fakeLoader
	mem    *fakeMemory
	clock  *clock.Mock
	events *MemoryPublisher
}

// newFixture builds a manager with low=200 and critical=100 thresholds and
// 1000 MB available.
func newFixture(t *testing.T, catalog ...types.Descriptor) *fixture {
	t.Helper()
	f := &fixture{
		loader: newFakeLoader(),
		mem:    &fakeMemory{avail: 1000},
		clock:  clock.NewMock(),
		events: NewMemoryPublisher(),
	}
	f.m = New(Config{
		Catalog:          catalog,
		Loaders:          map[types.Category]Loader{types.CategoryVision: f.loader},
		Memory:           f.mem,
		Clock:            f.clock,
		LowMemoryMB:      200,
		CriticalMemoryMB: 100,
		Publisher:        f.events,
	})
	t.Cleanup(func() { _ = f.m.Close() })
	return f
}

func (f *fixture) mustLoad(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := f.m.EnsureLoaded(context.Background(), id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
}

func (f *fixture) assertLoaded(t *testing.T, want map[string]bool) {
	t.Helper()
	for id, loaded := range want {
		if got := f.m.IsLoaded(id); got != loaded {
			t.Fatalf("%s loaded=%v want %v", id, got, loaded)
		}
	}
}

var errBoom = errors.New("boom")
