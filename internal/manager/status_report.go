package manager

import (
	"sort"

	"artifactd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := types.StatusResponse{
		LoadedMB:       m.loadedMB,
		AvailableMB:    m.lastAvailMB,
		ProcessMB:      m.lastProcMB,
		Pressure:       m.pressure.String(),
		Foreground:     m.foreground,
		LoadsTotal:     m.loadsTotal,
		EvictionsTotal: m.evictionsTotal,
		UptimeSeconds:  int64(m.clock.Now().Sub(m.startTime).Seconds()),
	}
	resp.Artifacts = make([]types.ArtifactStatus, 0, len(m.entries))
	for id, e := range m.entries {
		st := types.ArtifactStatus{
			ID:       id,
			State:    string(e.state),
			Priority: e.desc.Priority.String(),
		}
		switch e.state {
		case StateLoaded:
			st.LoadedAt = e.record.LoadedAt.Unix()
			st.LastAccess = e.record.LastAccess.Unix()
			st.FootprintMB = e.record.FootprintMB
		case StateLoading:
			st.FootprintMB = e.reservedMB
		case StateFailed:
			if e.err != nil {
				st.Error = e.err.Error()
			}
		}
		resp.Artifacts = append(resp.Artifacts, st)
	}
	sort.Slice(resp.Artifacts, func(i, j int) bool { return resp.Artifacts[i].ID < resp.Artifacts[j].ID })
	return resp
}

// Ready reports whether every critical artifact is resident.
func (m *Manager) Ready() bool {
	for _, id := range m.criticalIDs() {
		if !m.IsLoaded(id) {
			return false
		}
	}
	return true
}
