package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"artifactd/pkg/types"
)

func TestEnsureLoaded_Idempotent(t *testing.T) {
	f := newFixture(t, desc("a", types.PriorityNormal, 100))
	f.mustLoad(t, "a")
	first := f.m.LoadedRecords()[0]
	f.clock.Add(time.Second)
	f.mustLoad(t, "a")
	if n := f.loader.loadCount("a"); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
	recs := f.m.LoadedRecords()
	if len(recs) != 1 || !recs[0].LastAccess.After(first.LastAccess) {
		t.Fatalf("second ensure must only refresh access time: %+v", recs)
	}
	if f.m.LoadedMB() != 100 {
		t.Fatalf("loadedMB=%d", f.m.LoadedMB())
	}
}

func TestEnsureLoaded_UnknownAndMissingLoader(t *testing.T) {
	d := desc("gest", types.PriorityNormal, 10)
	d.Category = types.CategoryGesture
	f := newFixture(t, d)
	if err := f.m.EnsureLoaded(context.Background(), "nope"); !IsArtifactNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	err := f.m.EnsureLoaded(context.Background(), "gest")
	if !IsMissingLoader(err) {
		t.Fatalf("expected missing loader, got %v", err)
	}
	if st, serr := f.m.State("gest"); st != StateFailed || serr == nil {
		t.Fatalf("state=%s err=%v", st, serr)
	}
}

func TestEnsureLoaded_FailureThenRecovery(t *testing.T) {
	f := newFixture(t, desc("a", types.PriorityNormal, 100))
	f.loader.fail["a"] = errBoom
	if err := f.m.EnsureLoaded(context.Background(), "a"); err == nil {
		t.Fatalf("expected load failure")
	}
	st, err := f.m.State("a")
	if st != StateFailed || err == nil {
		t.Fatalf("state=%s err=%v", st, err)
	}
	if f.m.LoadedMB() != 0 || f.m.pendingMB != 0 {
		t.Fatalf("accounting leaked: loaded=%d pending=%d", f.m.LoadedMB(), f.m.pendingMB)
	}
	if len(f.events.Named("ensure_failed")) != 1 {
		t.Fatalf("expected one ensure_failed event")
	}
	delete(f.loader.fail, "a")
	f.mustLoad(t, "a")
	if st, _ := f.m.State("a"); st != StateLoaded {
		t.Fatalf("state after retry=%s", st)
	}
}

func TestEnsureLoaded_LoaderPanicSettlesReservation(t *testing.T) {
	f := newFixture(t, desc("p", types.PriorityNormal, 100))
	f.m.RegisterLoader(types.CategoryVision, LoaderFunc(func(context.Context, types.Descriptor) (Handle, error) {
		panic("bad artifact")
	}))
	if err := f.m.EnsureLoaded(context.Background(), "p"); err == nil {
		t.Fatalf("expected error from panicking loader")
	}
	if f.m.pendingMB != 0 {
		t.Fatalf("reservation leaked: %d", f.m.pendingMB)
	}
}

func TestEnsureLoaded_EvictsLowerPriorityToFit(t *testing.T) {
	f := newFixture(t,
		desc("opt", types.PriorityOptional, 100),
		desc("norm", types.PriorityNormal, 100),
		desc("high", types.PriorityHigh, 120),
	)
	f.mustLoad(t, "opt", "norm")
	// headroom is now 250-200 = 50; making room for 120 takes the optional one only
	f.mem.set(250)
	f.mustLoad(t, "high")
	f.assertLoaded(t, map[string]bool{"opt": false, "norm": true, "high": true})
	if f.loader.closeCount("opt") != 1 {
		t.Fatalf("evicted handle not released")
	}
	if f.m.LoadedMB() != 220 {
		t.Fatalf("loadedMB=%d want 220", f.m.LoadedMB())
	}
}

func TestEnsureLoaded_EvictionOrderWithinClass(t *testing.T) {
	f := newFixture(t,
		desc("old", types.PriorityOptional, 100),
		desc("new", types.PriorityOptional, 100),
		desc("n", types.PriorityNormal, 100),
	)
	f.mustLoad(t, "old")
	f.clock.Add(time.Minute)
	f.mustLoad(t, "new")
	f.mem.set(250)
	f.mustLoad(t, "n")
	f.assertLoaded(t, map[string]bool{"old": false, "new": true, "n": true})
}

func TestEnsureLoaded_InsufficientMemoryEvictsNothing(t *testing.T) {
	f := newFixture(t,
		desc("opt", types.PriorityOptional, 100),
		desc("crit", types.PriorityCritical, 50),
		desc("big", types.PriorityNormal, 500),
	)
	f.mustLoad(t, "opt", "crit")
	f.mem.set(250)
	err := f.m.EnsureLoaded(context.Background(), "big")
	if !IsInsufficientMemory(err) {
		t.Fatalf("expected insufficient memory, got %v", err)
	}
	f.assertLoaded(t, map[string]bool{"opt": true, "crit": true, "big": false})
	if st, _ := f.m.State("big"); st != StateUnloaded {
		t.Fatalf("rejected artifact left in state %s", st)
	}
	if f.m.LoadedMB() != 150 {
		t.Fatalf("loadedMB=%d", f.m.LoadedMB())
	}
}

func TestEnsureLoaded_ConcurrentCallersShareOneLoad(t *testing.T) {
	f := newFixture(t, desc("a", types.PriorityNormal, 100))
	f.loader.gate = make(chan struct{})
	f.loader.started = make(chan string, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.m.EnsureLoaded(context.Background(), "a")
		}()
	}
	<-f.loader.started
	if st, _ := f.m.State("a"); st != StateLoading {
		t.Fatalf("state while loading=%s", st)
	}
	if err := f.m.Unload("a"); !IsBusy(err) {
		t.Fatalf("unload while loading: expected busy, got %v", err)
	}
	close(f.loader.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if n := f.loader.loadCount("a"); n != 1 {
		t.Fatalf("loader called %d times", n)
	}
	if len(f.m.LoadedRecords()) != 1 || f.m.LoadedMB() != 100 {
		t.Fatalf("expected a single record of 100 MB, got %d / %d", len(f.m.LoadedRecords()), f.m.LoadedMB())
	}
}

func TestConcurrentEnsureAndUnloadKeepsAccounting(t *testing.T) {
	var cat []types.Descriptor
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		cat = append(cat, desc(id, types.PriorityNormal, 10))
	}
	f := newFixture(t, cat...)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := ids[i%len(ids)]
		wg.Add(2)
		go func() { defer wg.Done(); _ = f.m.EnsureLoaded(context.Background(), id) }()
		go func() { defer wg.Done(); _ = f.m.Unload(id) }()
	}
	wg.Wait()
	sum := 0
	for _, r := range f.m.LoadedRecords() {
		sum += r.FootprintMB
	}
	if sum != f.m.LoadedMB() {
		t.Fatalf("loadedMB=%d, records sum=%d", f.m.LoadedMB(), sum)
	}
	if f.m.pendingMB != 0 {
		t.Fatalf("pending reservations left: %d", f.m.pendingMB)
	}
}

func TestUnload(t *testing.T) {
	f := newFixture(t, desc("a", types.PriorityCritical, 100))
	if err := f.m.Unload("zzz"); !IsArtifactNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.m.Unload("a"); err != nil {
		t.Fatalf("unload of unloaded artifact should be a no-op: %v", err)
	}
	f.mustLoad(t, "a")
	if err := f.m.Unload("a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if f.m.IsLoaded("a") || f.loader.closeCount("a") != 1 || f.m.LoadedMB() != 0 {
		t.Fatalf("unload did not release: loaded=%v closes=%d mb=%d", f.m.IsLoaded("a"), f.loader.closeCount("a"), f.m.LoadedMB())
	}
	if _, ok := f.m.GetHandle("a"); ok {
		t.Fatalf("handle still available after unload")
	}
}

func TestGetHandleAndHandleAs(t *testing.T) {
	f := newFixture(t, desc("a", types.PriorityNormal, 1))
	f.mustLoad(t, "a")
	h, ok := HandleAs[*fakeHandle](f.m, "a")
	if !ok || h.id != "a" {
		t.Fatalf("HandleAs: ok=%v h=%+v", ok, h)
	}
	if _, ok := HandleAs[*Blob](f.m, "a"); ok {
		t.Fatalf("wrong handle type must not match")
	}
}

func TestClose_ReleasesEverything(t *testing.T) {
	f := newFixture(t, desc("c", types.PriorityCritical, 10), desc("o", types.PriorityOptional, 10))
	f.mustLoad(t, "c", "o")
	if err := f.m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.loader.closeCount("c") != 1 || f.loader.closeCount("o") != 1 {
		t.Fatalf("handles not released on close")
	}
}

func TestClose_ReleasesLoadFinishingAfterwards(t *testing.T) {
	f := newFixture(t, desc("a", types.PriorityNormal, 10), desc("b", types.PriorityNormal, 10))
	f.loader.gate = make(chan struct{})
	f.loader.started = make(chan string, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.EnsureLoaded(context.Background(), "a") }()
	<-f.loader.started
	if err := f.m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(f.loader.gate)
	if err := <-errCh; !errors.Is(err, ErrClosed) {
		t.Fatalf("load finishing after close: err=%v", err)
	}
	if f.m.IsLoaded("a") || f.m.LoadedMB() != 0 {
		t.Fatalf("record admitted after close: loaded=%v mb=%d", f.m.IsLoaded("a"), f.m.LoadedMB())
	}
	if n := f.loader.closeCount("a"); n != 1 {
		t.Fatalf("late handle closes=%d want 1", n)
	}
	if st, _ := f.m.State("a"); st != StateUnloaded {
		t.Fatalf("state after close=%s", st)
	}

	if err := f.m.EnsureLoaded(context.Background(), "b"); !errors.Is(err, ErrClosed) {
		t.Fatalf("ensure after close: err=%v", err)
	}
	if f.loader.loadCount("b") != 0 {
		t.Fatalf("loader called after close")
	}
}

func TestStatusAndReady(t *testing.T) {
	f := newFixture(t, desc("c", types.PriorityCritical, 30), desc("n", types.PriorityNormal, 20))
	if f.m.Ready() {
		t.Fatalf("ready before critical artifacts are loaded")
	}
	f.mustLoad(t, "c", "n")
	if !f.m.Ready() {
		t.Fatalf("not ready with all critical artifacts loaded")
	}
	st := f.m.Status()
	if st.LoadedMB != 50 || len(st.Artifacts) != 2 || st.LoadsTotal != 2 {
		t.Fatalf("status=%+v", st)
	}
	if st.Artifacts[0].ID != "c" || st.Artifacts[0].State != string(StateLoaded) || st.Artifacts[0].Priority != "critical" {
		t.Fatalf("artifact status=%+v", st.Artifacts[0])
	}
	if st.Pressure != "normal" || !st.Foreground {
		t.Fatalf("pressure=%s foreground=%v", st.Pressure, st.Foreground)
	}
}
