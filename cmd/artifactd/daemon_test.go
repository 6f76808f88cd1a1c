package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/raulk/clock"

	"artifactd/internal/download"
	"artifactd/internal/langcache"
	"artifactd/internal/manager"
	"artifactd/pkg/types"
)

type stubHandle struct{}

func (stubHandle) Close() error { return nil }

type recordingDeferrer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingDeferrer) Defer(d types.Descriptor) {
	r.mu.Lock()
	r.ids = append(r.ids, d.ID)
	r.mu.Unlock()
}

// countingLoader records which ids it was asked to load.
type countingLoader struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *countingLoader) Load(_ context.Context, d types.Descriptor) (manager.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, d.ID)
	if l.err != nil {
		return nil, l.err
	}
	return stubHandle{}, nil
}

func newTestDaemon(t *testing.T, models, langs *countingLoader, later deferrer) *daemon {
	t.Helper()
	descs := []types.Descriptor{
		{ID: "whisper", Category: types.CategorySpeech, FootprintMB: 100, Priority: types.PriorityHigh},
		{ID: "lang-en", Category: types.CategoryLanguage, FootprintMB: 40},
		{ID: "lang-de", Category: types.CategoryLanguage, FootprintMB: 40},
	}
	managed, _ := splitCatalog(descs)
	mgr := manager.New(manager.Config{
		Catalog: managed,
		Loaders: map[types.Category]manager.Loader{types.CategorySpeech: models},
		Memory:  manager.StaticMemory{AvailableMBValue: 2000},
		Clock:   clock.NewMock(),
	})
	t.Cleanup(func() { _ = mgr.Close() })
	d := newDaemon(mgr, nil, download.New(download.Config{Dir: t.TempDir()}), later, descs)
	d.langs = langcache.New(langcache.Config{Loader: langs, Lookup: d.lookupLanguage, Clock: clock.NewMock()})
	t.Cleanup(func() { _ = d.langs.Close() })
	return d
}

func TestDaemon_RoutesLanguagePacksToCache(t *testing.T) {
	models, langs := &countingLoader{}, &countingLoader{}
	d := newTestDaemon(t, models, langs, nil)
	ctx := context.Background()
	for _, id := range []string{"whisper", "lang-en"} {
		if err := d.EnsureLoaded(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
	if len(models.calls) != 1 || models.calls[0] != "whisper" {
		t.Fatalf("manager loader calls=%v", models.calls)
	}
	if len(langs.calls) != 1 || langs.calls[0] != "lang-en" {
		t.Fatalf("language loader calls=%v", langs.calls)
	}
	if !d.mgr.IsLoaded("whisper") {
		t.Fatalf("whisper not resident in manager")
	}
	if d.mgr.IsLoaded("lang-en") {
		t.Fatalf("language pack leaked into manager")
	}
	if len(d.ListArtifacts()) != 3 {
		t.Fatalf("list=%v", d.ListArtifacts())
	}
}

func TestDaemon_StatusMergesLanguagePacks(t *testing.T) {
	d := newTestDaemon(t, &countingLoader{}, &countingLoader{}, nil)
	ctx := context.Background()
	if err := d.EnsureLoaded(ctx, "whisper"); err != nil {
		t.Fatal(err)
	}
	if err := d.EnsureLoaded(ctx, "lang-de"); err != nil {
		t.Fatal(err)
	}
	st := d.Status()
	if len(st.Artifacts) != 2 || st.Artifacts[0].ID != "lang-de" || st.Artifacts[1].ID != "whisper" {
		t.Fatalf("artifacts=%+v", st.Artifacts)
	}
	if st.Artifacts[0].State != "loaded" || st.LoadedMB != 140 {
		t.Fatalf("merged status=%+v", st)
	}

	if err := d.Unload("lang-de"); err != nil {
		t.Fatalf("unload language pack: %v", err)
	}
	if err := d.Unload("whisper"); err != nil {
		t.Fatalf("unload model: %v", err)
	}
	if st := d.Status(); st.LoadedMB != 0 {
		t.Fatalf("loaded after unload=%d", st.LoadedMB)
	}
}

func TestDaemon_TransferFailuresAreDeferred(t *testing.T) {
	later := &recordingDeferrer{}
	models := &countingLoader{err: &download.StatusError{URL: "http://x", Code: 503}}
	d := newTestDaemon(t, models, &countingLoader{}, later)
	if err := d.EnsureLoaded(context.Background(), "whisper"); err == nil {
		t.Fatalf("expected load error")
	}
	if len(later.ids) != 1 || later.ids[0] != "whisper" {
		t.Fatalf("deferred=%v", later.ids)
	}

	models.err = errors.New("corrupt")
	_ = d.EnsureLoaded(context.Background(), "whisper")
	if len(later.ids) != 1 {
		t.Fatalf("non-transfer failure deferred: %v", later.ids)
	}
	if d.CancelDownload("whisper") {
		t.Fatalf("no download should be running")
	}
}
