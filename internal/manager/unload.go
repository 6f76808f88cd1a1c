package manager

// Unload releases id if it is loaded. Unloading an artifact that is not
// resident is a no-op; an artifact still loading is refused with a busy
// error rather than torn down mid-construction.
func (m *Manager) Unload(id string) error {
	if _, ok := m.Descriptor(id); !ok {
		return ErrArtifactNotFound(id)
	}
	m.mu.Lock()
	e := m.entries[id]
	if e == nil {
		m.mu.Unlock()
		return nil
	}
	switch e.state {
	case StateLoading:
		m.mu.Unlock()
		return ErrBusy(id)
	case StateFailed:
		delete(m.entries, id)
		m.mu.Unlock()
		return nil
	}
	rec := m.removeLocked(id)
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "unload_start", ArtifactID: id, Fields: map[string]any{}})
	m.release([]*Record{rec}, "unload")
	return nil
}

// Close stops the monitors, releases every loaded artifact (critical ones
// included) and persists usage counters. Loads still running when Close is
// called release their handle on completion and fail with ErrClosed.
func (m *Manager) Close() error {
	m.stop()
	m.mu.Lock()
	m.closed = true
	var recs []*Record
	for id, e := range m.entries {
		if e.state == StateLoaded {
			recs = append(recs, m.removeLocked(id))
		}
	}
	m.mu.Unlock()
	m.release(recs, "shutdown")
	m.saveUsage()
	return nil
}
