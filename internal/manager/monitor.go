package manager

import (
	"context"

	"artifactd/pkg/types"
)

// Start launches the pressure and inactivity monitor. It runs until ctx is
// done or Close is called. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopMonitors != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.stopMonitors = cancel
	m.monitorsDone = done
	m.mu.Unlock()

	ticker := m.clock.Ticker(m.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick()
			}
		}
	}()
	m.log.Info().Dur("interval", m.interval).Msg("monitors started")
}

// stop cancels the monitor loop and waits for it to exit.
func (m *Manager) stop() {
	m.mu.Lock()
	cancel, done := m.stopMonitors, m.monitorsDone
	m.stopMonitors, m.monitorsDone = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one monitor pass: memory pressure first, then inactivity.
func (m *Manager) Tick() {
	m.checkPressure()
	m.checkInactivity()
}

func (m *Manager) levelFor(availMB int) PressureLevel {
	switch {
	case availMB < m.criticalMB:
		return PressureCritical
	case availMB < m.lowMB:
		return PressureLow
	default:
		return PressureNormal
	}
}

// checkPressure samples telemetry and acts only when the level changes.
func (m *Manager) checkPressure() {
	avail, err := m.memory.AvailableMB()
	if err != nil {
		m.log.Warn().Err(err).Msg("memory telemetry unavailable")
		return
	}
	proc, perr := m.memory.ProcessMB()

	m.mu.Lock()
	m.lastAvailMB = avail
	if perr == nil {
		m.lastProcMB = proc
	}
	prev := m.pressure
	level := m.levelFor(avail)
	m.pressure = level
	m.updateGaugesLocked()
	m.mu.Unlock()

	if level == prev {
		return
	}
	m.log.Warn().Str("from", prev.String()).Str("to", level.String()).Int("available_mb", avail).Msg("memory pressure changed")
	m.publisher.Publish(Event{Name: "pressure_changed", Fields: map[string]any{"level": level.String(), "available_mb": avail}})
	switch level {
	case PressureCritical:
		m.evictWhere("pressure_critical", notCritical)
	case PressureLow:
		m.evictWhere("pressure_low", isOptional)
	}
}

// checkInactivity unloads non-critical artifacts idle past the timeout.
func (m *Manager) checkInactivity() {
	cutoff := m.clock.Now().Add(-m.inactivity)
	m.evictWhere("inactivity", func(r *Record) bool {
		return notCritical(r) && r.LastAccess.Before(cutoff)
	})
}

// SetForeground records a host lifecycle transition. Moving to the
// background releases optional artifacts.
func (m *Manager) SetForeground(fg bool) {
	m.mu.Lock()
	prev := m.foreground
	m.foreground = fg
	m.mu.Unlock()
	if prev == fg {
		return
	}
	m.log.Info().Bool("foreground", fg).Msg("lifecycle transition")
	if !fg {
		m.evictWhere("background", isOptional)
	}
}

// Pressure returns the last computed pressure level.
func (m *Manager) Pressure() PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pressure
}

// criticalIDs lists critical descriptors in catalog order.
func (m *Manager) criticalIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		if m.catalog[id].Priority == types.PriorityCritical {
			ids = append(ids, id)
		}
	}
	return ids
}
