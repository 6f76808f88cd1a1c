package langcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"

	"artifactd/internal/manager"
	"artifactd/pkg/types"
)

type packHandle struct {
	id     string
	closed *sync.Map
}

func (h packHandle) Close() error { h.closed.Store(h.id, true); return nil }

type fixture struct {
	closed sync.Map
	loads  map[string]int
	mu     sync.Mutex
	clock  *clock.Mock
	// gate, when set, blocks loads until closed; started receives each id.
	gate    chan struct{}
	started chan string
	fail    map[string]error
}

func (f *fixture) loader() manager.Loader {
	return manager.LoaderFunc(func(ctx context.Context, d types.Descriptor) (manager.Handle, error) {
		f.mu.Lock()
		f.loads[d.ID]++
		gate, started, err := f.gate, f.started, f.fail[d.ID]
		f.mu.Unlock()
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
		return packHandle{id: d.ID, closed: &f.closed}, nil
	})
}

func (f *fixture) loadCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id]
}

func (f *fixture) closedCount() int {
	n := 0
	f.closed.Range(func(_, _ any) bool { n++; return true })
	return n
}

var errBoom = errors.New("boom")

func lookup(id string) (types.Descriptor, bool) {
	if id == "xx" {
		return types.Descriptor{}, false
	}
	return types.Descriptor{ID: id, Category: types.CategoryLanguage}, true
}

func newCache(t *testing.T, store Store) (*Cache, *fixture) {
	t.Helper()
	f := &fixture{loads: map[string]int{}, fail: map[string]error{}, clock: clock.NewMock()}
	f.clock.Add(time.Hour)
	c := New(Config{Loader: f.loader(), Lookup: lookup, Store: store, Clock: f.clock})
	return c, f
}

func TestCache_KeepsMostRecentThree(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()
	ctx := context.Background()
	for _, id := range []string{"en", "de", "fr", "es", "it"} {
		if err := c.EnsureLoaded(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
		f.clock.Add(time.Second)
	}
	if got, want := c.Loaded(), []string{"it", "es", "fr"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded=%v want %v", got, want)
	}
	for _, id := range []string{"en", "de"} {
		if _, ok := f.closed.Load(id); !ok {
			t.Fatalf("%s not released on eviction", id)
		}
	}
}

func TestCache_AccessRefreshesRecency(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()
	ctx := context.Background()
	for _, id := range []string{"en", "de", "fr"} {
		_ = c.EnsureLoaded(ctx, id)
		f.clock.Add(time.Second)
	}
	if _, ok := c.GetHandle("en"); !ok {
		t.Fatalf("en missing")
	}
	f.clock.Add(time.Second)
	_ = c.EnsureLoaded(ctx, "es")
	if got, want := c.Loaded(), []string{"es", "en", "fr"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded=%v want %v", got, want)
	}
	if f.loads["en"] != 1 {
		t.Fatalf("resident pack reloaded")
	}
	if err := c.EnsureLoaded(ctx, "xx"); !manager.IsArtifactNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCache_StatsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	store, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c, f := newCache(t, store)
	ctx := context.Background()
	for i, id := range []string{"en", "de", "fr", "es", "en"} {
		if err := c.EnsureLoaded(ctx, id); err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
		f.clock.Add(time.Minute)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = OpenBoltStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c2, f2 := newCache(t, store)
	defer c2.Close()
	stats, err := c2.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats["en"].Count != 2 || stats["de"].Count != 1 {
		t.Fatalf("stats=%+v", stats)
	}
	if !stats["en"].LastUsedAt.After(stats["es"].LastUsedAt) {
		t.Fatalf("recency not persisted: %+v", stats)
	}
	if err := c2.Warm(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if got, want := c2.Loaded(), []string{"en", "es", "fr"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("warm loaded=%v want %v", got, want)
	}
	if f2.loads["de"] != 0 {
		t.Fatalf("least recent pack warmed")
	}
}

func TestCache_Unload(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()
	_ = c.EnsureLoaded(context.Background(), "en")
	if err := c.Unload("en"); err != nil {
		t.Fatal(err)
	}
	if len(c.Loaded()) != 0 {
		t.Fatalf("pack still resident")
	}
	if _, ok := f.closed.Load("en"); !ok {
		t.Fatalf("handle not released")
	}
	if err := c.Unload("en"); err != nil {
		t.Fatalf("second unload: %v", err)
	}
}

func TestCache_UnloadWhileLoadingIsRefused(t *testing.T) {
	c, f := newCache(t, nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- c.EnsureLoaded(context.Background(), "en") }()
	<-f.started
	if err := c.Unload("en"); !manager.IsBusy(err) {
		t.Fatalf("unload while loading: expected busy, got %v", err)
	}
	close(f.gate)
	if err := <-errCh; err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := c.Loaded(); !reflect.DeepEqual(got, []string{"en"}) {
		t.Fatalf("loaded=%v", got)
	}
	_ = c.Close()
}

func TestCache_CloseWhileLoadingReleasesLateHandle(t *testing.T) {
	c, f := newCache(t, nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- c.EnsureLoaded(context.Background(), "en") }()
	<-f.started
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(f.gate)
	if err := <-errCh; !errors.Is(err, manager.ErrClosed) {
		t.Fatalf("load finishing after close: err=%v", err)
	}
	if len(c.Loaded()) != 0 {
		t.Fatalf("pack resident after close: %v", c.Loaded())
	}
	if _, ok := f.closed.Load("en"); !ok {
		t.Fatalf("late handle not released")
	}
	if err := c.EnsureLoaded(context.Background(), "de"); !errors.Is(err, manager.ErrClosed) {
		t.Fatalf("ensure after close: err=%v", err)
	}
}

func TestCache_ConcurrentSamePackSharesLoad(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()
	f.gate = make(chan struct{})
	f.started = make(chan string, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.EnsureLoaded(context.Background(), "en")
		}()
	}
	<-f.started
	close(f.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if n := f.loadCount("en"); n != 1 {
		t.Fatalf("loader called %d times", n)
	}
	if got := c.Loaded(); !reflect.DeepEqual(got, []string{"en"}) {
		t.Fatalf("loaded=%v", got)
	}
}

func TestCache_ConcurrentDistinctPacksStayBounded(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := c.EnsureLoaded(context.Background(), fmt.Sprintf("p%d", i))
			if err != nil && !errors.Is(err, ErrFull) {
				t.Errorf("ensure p%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	loaded := c.Loaded()
	if len(loaded) == 0 || len(loaded) > MaxCached {
		t.Fatalf("resident packs=%d, want 1..%d", len(loaded), MaxCached)
	}
	total := 0
	f.mu.Lock()
	for _, n := range f.loads {
		total += n
	}
	f.mu.Unlock()
	if total != len(loaded)+f.closedCount() {
		t.Fatalf("handle leak: loads=%d resident=%d closed=%d", total, len(loaded), f.closedCount())
	}
}

func TestCache_FullWhenEverySlotIsLoading(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()
	f.gate = make(chan struct{})
	f.started = make(chan string, MaxCached)

	var wg sync.WaitGroup
	for _, id := range []string{"en", "de", "fr"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.EnsureLoaded(context.Background(), id); err != nil {
				t.Errorf("ensure %s: %v", id, err)
			}
		}(id)
	}
	for i := 0; i < MaxCached; i++ {
		<-f.started
	}
	if err := c.EnsureLoaded(context.Background(), "es"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	close(f.gate)
	wg.Wait()
	if len(c.Loaded()) != MaxCached {
		t.Fatalf("loaded=%v", c.Loaded())
	}
}

func TestCache_FailedLoadReleasesSlot(t *testing.T) {
	c, f := newCache(t, nil)
	defer c.Close()
	ctx := context.Background()
	f.fail["en"] = errBoom
	if err := c.EnsureLoaded(ctx, "en"); !errors.Is(err, errBoom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	for _, id := range []string{"de", "fr", "es"} {
		if err := c.EnsureLoaded(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
		f.clock.Add(time.Second)
	}
	if len(c.Loaded()) != MaxCached || f.closedCount() != 0 {
		t.Fatalf("failed load held a slot: loaded=%v closed=%d", c.Loaded(), f.closedCount())
	}
	delete(f.fail, "en")
	if err := c.EnsureLoaded(ctx, "en"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if _, ok := f.closed.Load("de"); !ok {
		t.Fatalf("oldest pack not evicted for retry")
	}
}
