// Package download fetches artifacts into durable storage with chunked
// transfer, progress reporting, retry with exponential backoff, and
// verify-then-install so partial data never appears at a canonical path.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"artifactd/internal/common/fsutil"
	"artifactd/internal/validate"
	"artifactd/pkg/types"
)

// ChunkSize is the maximum read per progress update.
const ChunkSize = 8 * 1024

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 1000 * time.Millisecond
	defaultIOWorkers      = 4
)

// ErrCancelled is returned (wrapped) when a download is cancelled.
var ErrCancelled = errors.New("download cancelled")

// IsCancelled reports whether err indicates a cancelled download.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// StatusError is a non-2xx response from the artifact source.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code) }

// Verifier checks a downloaded file before it is installed.
type Verifier interface {
	Validate(ctx context.Context, path string, exp validate.Expect) (validate.Outcome, error)
}

// Config configures an Engine.
type Config struct {
	// Dir receives installed artifacts (<Dir>/<id>.bin) and temp files.
	Dir            string
	Client         *http.Client
	Verifier       Verifier
	Tracker        *Tracker
	MaxAttempts    int
	InitialBackoff time.Duration
	// IOWorkers bounds concurrent transfers across artifacts.
	IOWorkers int
	Logger    *zerolog.Logger
}

// Engine downloads artifacts. It is safe for concurrent use; concurrent
// requests for the same id share one transfer.
type Engine struct {
	dir            string
	client         *http.Client
	verifier       Verifier
	tracker        *Tracker
	maxAttempts    int
	initialBackoff time.Duration
	io             *semaphore.Weighted
	group          singleflight.Group
	log            zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs an Engine, applying defaults for unset fields.
func New(cfg Config) *Engine {
	e := &Engine{
		dir:            cfg.Dir,
		client:         cfg.Client,
		verifier:       cfg.Verifier,
		tracker:        cfg.Tracker,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		log:            zerolog.Nop(),
		cancels:        make(map[string]context.CancelFunc),
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.verifier == nil {
		e.verifier = validate.New(validate.Config{})
	}
	if e.tracker == nil {
		e.tracker = NewTracker()
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.initialBackoff <= 0 {
		e.initialBackoff = defaultInitialBackoff
	}
	workers := cfg.IOWorkers
	if workers <= 0 {
		workers = defaultIOWorkers
	}
	e.io = semaphore.NewWeighted(int64(workers))
	if cfg.Logger != nil {
		e.log = *cfg.Logger
	}
	return e
}

// Tracker exposes the per-artifact progress table.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Dir returns the install directory.
func (e *Engine) Dir() string { return e.dir }

// PathFor returns the canonical install path for id.
func (e *Engine) PathFor(id string) string { return fsutil.ArtifactPath(e.dir, id) }

// Cancel requests cancellation of an in-flight download. It reports whether
// a download for id was running.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Download fetches d into the install directory and returns its canonical path.
func (e *Engine) Download(ctx context.Context, d types.Descriptor) (string, error) {
	if d.ID == "" || d.URL == "" {
		return "", fmt.Errorf("descriptor %q: id and url are required", d.ID)
	}
	v, err, _ := e.group.Do(d.ID, func() (any, error) {
		return e.download(ctx, d)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Engine) download(parent context.Context, d types.Descriptor) (string, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	e.mu.Lock()
	e.cancels[d.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, d.ID)
		e.mu.Unlock()
	}()

	start := time.Now()
	e.tracker.publish(d.ID, Progress{Phase: PhaseStarted})
	e.log.Info().Str("artifact", d.ID).Str("url", d.URL).Msg("download start")

	if err := e.io.Acquire(ctx, 1); err != nil {
		return "", e.fail(ctx, d.ID, err)
	}
	defer e.io.Release(1)
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", e.fail(ctx, d.ID, fmt.Errorf("mkdir: %w", err))
	}

	attempt := 0
	var path string
	op := func() error {
		attempt++
		p, err := e.attempt(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			e.log.Warn().Err(err).Str("artifact", d.ID).Int("attempt", attempt).Msg("download attempt failed")
			return err
		}
		path = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		downloadRetriesTotal.Inc()
		e.tracker.publish(d.ID, Progress{
			Phase:       PhaseRetrying,
			Attempt:     attempt,
			MaxAttempts: e.maxAttempts,
			BackoffMs:   wait.Milliseconds(),
			Cause:       err.Error(),
		})
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return "", e.fail(ctx, d.ID, err)
	}

	downloadsTotal.WithLabelValues("completed").Inc()
	e.tracker.publish(d.ID, Progress{Phase: PhaseCompleted, Path: path})
	e.log.Info().Str("artifact", d.ID).Str("path", path).Int("attempts", attempt).
		Dur("dur", time.Since(start)).Msg("download completed")
	return path, nil
}

// newBackOff yields InitialBackoff * 2^(n-1) for the n-th retry, without jitter.
func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = e.initialBackoff << uint(e.maxAttempts)
	bo.MaxElapsedTime = 0
	return bo
}

func (e *Engine) fail(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil {
		downloadsTotal.WithLabelValues("cancelled").Inc()
		e.tracker.publish(id, Progress{Phase: PhaseFailed, Cause: "cancelled"})
		e.log.Info().Str("artifact", id).Msg("download cancelled")
		return fmt.Errorf("%s: %w: %w", id, ErrCancelled, ctx.Err())
	}
	downloadsTotal.WithLabelValues("failed").Inc()
	e.tracker.publish(id, Progress{Phase: PhaseFailed, Cause: err.Error()})
	e.log.Error().Err(err).Str("artifact", id).Msg("download failed")
	return fmt.Errorf("download %s: %w", id, err)
}

// attempt performs one transfer into a temp file, verifies it and installs it.
// The temp file is removed on every failure path.
func (e *Engine) attempt(ctx context.Context, d types.Descriptor) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: d.URL, Code: resp.StatusCode}
	}
	total := resp.ContentLength
	if total <= 0 {
		total = d.SizeBytes
	}

	tmp := fsutil.TempPath(e.dir, d.ID, time.Now())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	installed := false
	defer func() {
		if !installed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	e.tracker.publish(d.ID, downloading(0, total, 0))
	start := time.Now()
	var transferred int64
	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return "", werr
			}
			transferred += int64(n)
			downloadBytesTotal.Add(float64(n))
			e.tracker.publish(d.ID, downloading(transferred, total, time.Since(start).Milliseconds()))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	e.tracker.publish(d.ID, Progress{Phase: PhaseVerifying, BytesTransferred: transferred, TotalBytes: total})
	out, err := e.verifier.Validate(ctx, tmp, validate.Expect{Checksum: d.SHA256, SizeBytes: d.SizeBytes})
	if err != nil {
		return "", err
	}
	if !out.OK() {
		return "", out.Err()
	}
	dst := fsutil.ArtifactPath(e.dir, d.ID)
	if err := fsutil.AtomicInstall(tmp, dst); err != nil {
		return "", err
	}
	installed = true
	return dst, nil
}
