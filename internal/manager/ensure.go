package manager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"artifactd/pkg/types"
)

// EnsureLoaded makes id resident, evicting lower-priority artifacts when
// memory is short. It is idempotent: a loaded artifact only has its access
// time refreshed. Concurrent calls for the same id share one load attempt.
func (m *Manager) EnsureLoaded(ctx context.Context, id string) error {
	d, ok := m.Descriptor(id)
	if !ok {
		return ErrArtifactNotFound(id)
	}
	if m.isClosed() {
		return ErrClosed
	}
	if m.touch(id) {
		return nil
	}
	_, err, _ := m.flights.Do(id, func() (any, error) {
		return nil, m.ensure(ctx, d)
	})
	return err
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// touch refreshes LastAccess when id is loaded.
func (m *Manager) touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil || e.state != StateLoaded {
		return false
	}
	e.record.LastAccess = m.clock.Now()
	return true
}

func (m *Manager) ensure(ctx context.Context, d types.Descriptor) error {
	// A caller that joined just after the previous flight finished lands here.
	if m.touch(d.ID) {
		return nil
	}
	startTs := m.clock.Now()
	m.log.Info().Str("artifact", d.ID).Str("priority", d.Priority.String()).Msg("ensure start")
	m.publisher.Publish(Event{Name: "ensure_start", ArtifactID: d.ID, Fields: map[string]any{}})

	m.mu.Lock()
	loader, ok := m.loaders[d.Category]
	m.mu.Unlock()
	if !ok {
		err := missingLoaderError{category: d.Category}
		m.markFailed(d, err)
		return err
	}

	victims, err := m.admit(d)
	if err != nil {
		loadsTotal.WithLabelValues("rejected").Inc()
		m.log.Warn().Err(err).Str("artifact", d.ID).Msg("ensure admission failed")
		m.publisher.Publish(Event{Name: "ensure_insufficient_memory", ArtifactID: d.ID, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.release(victims, "admission")

	h, err := callLoader(ctx, loader, d)

	m.mu.Lock()
	e := m.entries[d.ID]
	m.pendingMB -= e.reservedMB
	e.reservedMB = 0
	if m.closed {
		delete(m.entries, d.ID)
		m.mu.Unlock()
		if h != nil {
			if cerr := h.Close(); cerr != nil {
				m.log.Warn().Err(cerr).Str("artifact", d.ID).Msg("close after shutdown")
			}
		}
		loadsTotal.WithLabelValues("failed").Inc()
		m.log.Info().Str("artifact", d.ID).Msg("load finished after close; released")
		return fmt.Errorf("load %s: %w", d.ID, ErrClosed)
	}
	if err != nil {
		e.state = StateFailed
		e.err = err
		m.mu.Unlock()
		loadsTotal.WithLabelValues("failed").Inc()
		m.log.Error().Err(err).Str("artifact", d.ID).Msg("ensure load failed")
		m.publisher.Publish(Event{Name: "ensure_failed", ArtifactID: d.ID, Fields: map[string]any{"error": err.Error()}})
		return fmt.Errorf("load %s: %w", d.ID, err)
	}
	fp := d.FootprintMB
	if f, ok := h.(Footprinter); ok {
		if mb := f.FootprintMB(); mb > 0 {
			fp = mb
		}
	}
	now := m.clock.Now()
	e.state = StateLoaded
	e.err = nil
	e.record = &Record{Descriptor: d, LoadedAt: now, LastAccess: now, FootprintMB: fp, handle: h}
	m.loadedMB += fp
	m.loadsTotal++
	m.bumpUsageLocked(d.ID, now)
	m.updateGaugesLocked()
	m.mu.Unlock()

	loadsTotal.WithLabelValues("loaded").Inc()
	m.saveUsage()
	dur := now.Sub(startTs)
	m.log.Info().Str("artifact", d.ID).Int("footprint_mb", fp).Dur("dur", dur).Msg("ensure loaded")
	m.publisher.Publish(Event{Name: "ensure_loaded", ArtifactID: d.ID, Fields: map[string]any{"dur_ms": int(dur / time.Millisecond)}})
	return nil
}

// callLoader runs the loader, converting a panic into an error so the
// reservation is always settled.
func callLoader(ctx context.Context, l Loader, d types.Descriptor) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("loader panic: %v", r)
		}
	}()
	h, err = l.Load(ctx, d)
	if err == nil && h == nil {
		err = fmt.Errorf("loader returned no handle")
	}
	return h, err
}

// admit decides, atomically with the table mutation, whether d fits. On
// success d is entered as loading with its footprint reserved, and the
// evicted records are returned for release outside the lock. When even all
// lower-priority artifacts would not make room nothing is evicted.
func (m *Manager) admit(d types.Descriptor) ([]*Record, error) {
	avail, err := m.memory.AvailableMB()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var victims []*Record
	if err != nil {
		m.log.Warn().Err(err).Msg("memory telemetry unavailable; admitting without eviction")
	} else {
		m.lastAvailMB = avail
		headroom := avail - m.pendingMB - m.lowMB
		need := d.FootprintMB
		if need > headroom {
			var freed int
			var plan []string
			for _, c := range m.evictionCandidatesLocked(func(r *Record) bool { return r.Descriptor.Priority < d.Priority }) {
				if need <= headroom+freed {
					break
				}
				plan = append(plan, c.Descriptor.ID)
				freed += c.FootprintMB
			}
			if need > headroom+freed {
				return nil, &InsufficientMemoryError{ID: d.ID, RequiredMB: need, AvailableMB: headroom + freed}
			}
			for _, id := range plan {
				victims = append(victims, m.removeLocked(id))
			}
		}
	}

	e := m.entries[d.ID]
	if e == nil {
		e = &entry{}
		m.entries[d.ID] = e
	}
	e.state = StateLoading
	e.desc = d
	e.err = nil
	e.record = nil
	e.reservedMB = d.FootprintMB
	m.pendingMB += d.FootprintMB
	return victims, nil
}

// evictionCandidatesLocked returns loaded records matching keep-out filter
// pred, least important first and, within a class, least recently used first.
func (m *Manager) evictionCandidatesLocked(pred func(*Record) bool) []*Record {
	var out []*Record
	for _, e := range m.entries {
		if e.state != StateLoaded || !pred(e.record) {
			continue
		}
		out = append(out, e.record)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Descriptor.Priority, out[j].Descriptor.Priority
		if pi != pj {
			return pi < pj
		}
		return out[i].LastAccess.Before(out[j].LastAccess)
	})
	return out
}

func (m *Manager) markFailed(d types.Descriptor, err error) {
	m.mu.Lock()
	m.entries[d.ID] = &entry{state: StateFailed, desc: d, err: err}
	m.mu.Unlock()
	loadsTotal.WithLabelValues("failed").Inc()
	m.log.Error().Err(err).Str("artifact", d.ID).Msg("ensure failed")
	m.publisher.Publish(Event{Name: "ensure_failed", ArtifactID: d.ID, Fields: map[string]any{"error": err.Error()}})
}
