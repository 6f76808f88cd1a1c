// Package prefetch keeps installed artifacts current in the background. A
// cron schedule runs a sweep that downloads every catalog artifact whose
// local file is missing or stale, subject to device constraints.
package prefetch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"artifactd/pkg/types"
)

// DefaultSchedule runs a sweep every half hour.
const DefaultSchedule = "@every 30m"

const defaultParallel = 2

// ErrConstraintsUnmet is returned by Sweep when the device may not fetch now.
var ErrConstraintsUnmet = errors.New("prefetch constraints not met")

// ErrSweepRunning is returned by Sweep when another sweep is in progress.
var ErrSweepRunning = errors.New("prefetch sweep already running")

// Constraints gate background transfers. A nil check counts as satisfied.
type Constraints struct {
	NetworkAvailable func() bool
	BatteryOK        func() bool
}

func (c Constraints) met() bool {
	if c.NetworkAvailable != nil && !c.NetworkAvailable() {
		return false
	}
	if c.BatteryOK != nil && !c.BatteryOK() {
		return false
	}
	return true
}

// Catalog lists the artifacts a sweep considers.
type Catalog interface {
	ListArtifacts() []types.Descriptor
}

// Files makes an artifact file present and current.
type Files interface {
	EnsureFile(ctx context.Context, d types.Descriptor) (string, error)
}

// StaleFunc reports whether the local copy of d needs fetching.
type StaleFunc func(ctx context.Context, d types.Descriptor) bool

type Config struct {
	Schedule    string
	Catalog     Catalog
	Files       Files
	Stale       StaleFunc
	Constraints Constraints
	// Parallel bounds concurrent fetches within one sweep.
	Parallel int
	Logger   *zerolog.Logger
}

// Result summarizes one sweep.
type Result struct {
	Fetched []string
	Failed  map[string]error
	Current int
}

type Scheduler struct {
	schedule    string
	catalog     Catalog
	files       Files
	stale       StaleFunc
	constraints Constraints
	parallel    int
	log         zerolog.Logger
	cron        *cron.Cron
	running     atomic.Bool

	mu       sync.Mutex
	deferred map[string]types.Descriptor
	last     time.Time
}

// New validates the schedule and builds a Scheduler. Nothing runs until Start.
func New(cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		schedule:    cfg.Schedule,
		catalog:     cfg.Catalog,
		files:       cfg.Files,
		stale:       cfg.Stale,
		constraints: cfg.Constraints,
		parallel:    cfg.Parallel,
		log:         zerolog.Nop(),
		deferred:    make(map[string]types.Descriptor),
	}
	if s.schedule == "" {
		s.schedule = DefaultSchedule
	}
	if s.parallel <= 0 {
		s.parallel = defaultParallel
	}
	if s.stale == nil {
		s.stale = func(context.Context, types.Descriptor) bool { return true }
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return nil, err
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return s, nil
}

// Start registers the sweep with the cron scheduler and starts it. Sweeps
// run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		res, err := s.Sweep(ctx)
		if err != nil {
			s.log.Info().Err(err).Msg("prefetch sweep skipped")
			return
		}
		s.log.Info().Int("fetched", len(res.Fetched)).Int("failed", len(res.Failed)).Int("current", res.Current).Msg("prefetch sweep done")
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("prefetch scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Defer queues d to be fetched by the next sweep even if it is not in the catalog.
func (s *Scheduler) Defer(d types.Descriptor) {
	s.mu.Lock()
	s.deferred[d.ID] = d
	s.mu.Unlock()
	s.log.Debug().Str("artifact", d.ID).Msg("prefetch deferred")
}

// Pending returns the ids waiting in the deferred queue, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.deferred))
	for id := range s.deferred {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastSweep returns when the last completed sweep finished.
func (s *Scheduler) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sweep fetches deferred artifacts and every stale catalog artifact. When
// constraints are unmet nothing is fetched and deferred requests are kept.
// A deferred request that fails stays queued for the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepRunning
	}
	defer s.running.Store(false)
	if !s.constraints.met() {
		return Result{}, ErrConstraintsUnmet
	}

	s.mu.Lock()
	work := make(map[string]types.Descriptor, len(s.deferred))
	requested := make(map[string]bool, len(s.deferred))
	for id, d := range s.deferred {
		work[id] = d
		requested[id] = true
	}
	s.deferred = make(map[string]types.Descriptor)
	s.mu.Unlock()

	res := Result{Failed: make(map[string]error)}
	if s.catalog != nil {
		for _, d := range s.catalog.ListArtifacts() {
			if _, queued := work[d.ID]; queued {
				continue
			}
			if s.stale(ctx, d) {
				work[d.ID] = d
			} else {
				res.Current++
			}
		}
	}

	ids := make([]string, 0, len(work))
	for id := range work {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range ids {
		d := work[id]
		g.Go(func() error {
			_, err := s.files.EnsureFile(gctx, d)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[d.ID] = err
				s.log.Warn().Err(err).Str("artifact", d.ID).Msg("prefetch failed")
				return nil
			}
			res.Fetched = append(res.Fetched, d.ID)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Fetched)

	s.mu.Lock()
	for id := range res.Failed {
		if _, exists := s.deferred[id]; requested[id] && !exists {
			s.deferred[id] = work[id]
		}
	}
	s.last = time.Now()
	s.mu.Unlock()
	return res, ctx.Err()
}
