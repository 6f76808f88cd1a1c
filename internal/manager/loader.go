package manager

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"artifactd/internal/validate"
	"artifactd/pkg/types"
)

// Handle is a live, loaded artifact. Close releases it; it is the unload half
// of the loader plugin contract.
type Handle interface {
	Close() error
}

// Footprinter is implemented by handles that can report their measured
// resident size. Zero means unknown.
type Footprinter interface {
	FootprintMB() int
}

// Loader builds a Handle for one artifact category.
type Loader interface {
	Load(ctx context.Context, d types.Descriptor) (Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, d types.Descriptor) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, d types.Descriptor) (Handle, error) { return f(ctx, d) }

// Fetcher downloads an artifact into its canonical path.
type Fetcher interface {
	Download(ctx context.Context, d types.Descriptor) (string, error)
	PathFor(id string) string
}

// Checker is the subset of the validator used by FileLoader.
type Checker interface {
	Validate(ctx context.Context, path string, exp validate.Expect) (validate.Outcome, error)
	NeedsUpdate(ctx context.Context, path, latestChecksum string) bool
}

// OpenFunc constructs the in-memory object for a validated artifact file.
type OpenFunc func(path string, d types.Descriptor) (Handle, error)

// FileLoaderOptions tune a FileLoader.
type FileLoaderOptions struct {
	// LoadTest runs the validator's engine load test before opening.
	LoadTest bool
	Logger   *zerolog.Logger
}

// FileLoader is the common loader path: make sure the artifact file is
// present and current (downloading when needed), validate it, then open it.
type FileLoader struct {
	fetch    Fetcher
	check    Checker
	open     OpenFunc
	loadTest bool
	log      zerolog.Logger
}

func NewFileLoader(f Fetcher, c Checker, open OpenFunc, opts FileLoaderOptions) *FileLoader {
	if open == nil {
		open = OpenBlob
	}
	l := &FileLoader{fetch: f, check: c, open: open, loadTest: opts.LoadTest, log: zerolog.Nop()}
	if opts.Logger != nil {
		l.log = *opts.Logger
	}
	return l
}

// EnsureFile returns the canonical path of a present, validated artifact,
// downloading it when absent or stale.
func (l *FileLoader) EnsureFile(ctx context.Context, d types.Descriptor) (string, error) {
	path := l.fetch.PathFor(d.ID)
	if l.check.NeedsUpdate(ctx, path, d.SHA256) {
		l.log.Info().Str("artifact", d.ID).Msg("artifact file missing or stale; downloading")
		p, err := l.fetch.Download(ctx, d)
		if err != nil {
			return "", err
		}
		path = p
	}
	// The checksum was confirmed by NeedsUpdate or by the download itself.
	out, err := l.check.Validate(ctx, path, validate.Expect{SizeBytes: d.SizeBytes, LoadTest: l.loadTest})
	if err != nil {
		return "", err
	}
	if !out.OK() {
		return "", fmt.Errorf("%s: %w", d.ID, out.Err())
	}
	return path, nil
}

// Load implements Loader.
func (l *FileLoader) Load(ctx context.Context, d types.Descriptor) (Handle, error) {
	path, err := l.EnsureFile(ctx, d)
	if err != nil {
		return nil, err
	}
	return l.open(path, d)
}

// Blob is the default in-memory handle: the artifact bytes.
type Blob struct {
	mu   sync.RWMutex
	data []byte
}

// OpenBlob reads the whole artifact into memory.
func OpenBlob(path string, _ types.Descriptor) (Handle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Blob{data: b}, nil
}

// Bytes returns the artifact contents; nil after Close.
func (b *Blob) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

func (b *Blob) FootprintMB() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data) >> 20
}

func (b *Blob) Close() error {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
	return nil
}
