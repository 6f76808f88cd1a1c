package manager

import "artifactd/pkg/types"

// removeLocked detaches a loaded record from the table and the footprint sum
// in one step. The caller releases the returned record outside the lock.
func (m *Manager) removeLocked(id string) *Record {
	e := m.entries[id]
	if e == nil || e.state != StateLoaded {
		return nil
	}
	delete(m.entries, id)
	m.loadedMB -= e.record.FootprintMB
	if m.loadedMB < 0 {
		m.loadedMB = 0
	}
	m.updateGaugesLocked()
	return e.record
}

// release closes handles of removed records. It is best effort: a failing
// Close is logged and the remaining records are still released.
func (m *Manager) release(recs []*Record, reason string) int {
	n := 0
	for _, r := range recs {
		if r == nil {
			continue
		}
		n++
		if reason != "unload" && reason != "shutdown" {
			m.mu.Lock()
			m.evictionsTotal++
			m.mu.Unlock()
			evictionsTotal.WithLabelValues(reason).Inc()
		}
		if err := r.handle.Close(); err != nil {
			m.log.Error().Err(err).Str("artifact", r.Descriptor.ID).Str("reason", reason).Msg("release failed")
		}
		r.handle = nil
		m.log.Info().Str("artifact", r.Descriptor.ID).Str("reason", reason).Int("footprint_mb", r.FootprintMB).Msg("artifact unloaded")
		m.publisher.Publish(Event{Name: "unloaded", ArtifactID: r.Descriptor.ID, Fields: map[string]any{"reason": reason}})
	}
	return n
}

// evictWhere unloads every loaded, non-loading artifact matching pred and
// returns how many were released.
func (m *Manager) evictWhere(reason string, pred func(*Record) bool) int {
	m.mu.Lock()
	var recs []*Record
	for _, r := range m.evictionCandidatesLocked(pred) {
		recs = append(recs, m.removeLocked(r.Descriptor.ID))
	}
	m.mu.Unlock()
	return m.release(recs, reason)
}

func notCritical(r *Record) bool { return r.Descriptor.Priority != types.PriorityCritical }

func isOptional(r *Record) bool { return r.Descriptor.Priority == types.PriorityOptional }
