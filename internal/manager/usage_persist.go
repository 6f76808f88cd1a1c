package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"artifactd/internal/common/fsutil"
)

type usageRecord struct {
	Count        int   `json:"count"`
	LastUsedUnix int64 `json:"last_used_unix"`
}

func (m *Manager) loadUsage() {
	if m.usagePath == "" {
		return
	}
	b, err := os.ReadFile(m.usagePath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn().Err(err).Str("path", m.usagePath).Msg("usage history unreadable")
		}
		return
	}
	var data map[string]usageRecord
	if err := json.Unmarshal(b, &data); err != nil {
		m.log.Warn().Err(err).Str("path", m.usagePath).Msg("usage history corrupt; starting fresh")
		return
	}
	m.usage = data
}

func (m *Manager) bumpUsageLocked(id string, now time.Time) {
	u := m.usage[id]
	u.Count++
	u.LastUsedUnix = now.Unix()
	m.usage[id] = u
}

// saveUsage writes the counters via a private temp file and rename so a
// crash never leaves a truncated history. Saves are serialized so the last
// snapshot taken is the last one installed.
func (m *Manager) saveUsage() {
	if m.usagePath == "" {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	m.mu.Lock()
	snap := make(map[string]usageRecord, len(m.usage))
	for id, u := range m.usage {
		snap[id] = u
	}
	m.mu.Unlock()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.usagePath), 0o755); err != nil {
		m.log.Warn().Err(err).Msg("usage history dir")
		return
	}
	f, err := os.CreateTemp(filepath.Dir(m.usagePath), filepath.Base(m.usagePath)+".*.tmp")
	if err != nil {
		m.log.Warn().Err(err).Msg("usage history temp file")
		return
	}
	tmp := f.Name()
	_, werr := f.Write(b)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		m.log.Warn().Err(werr).Msg("usage history write")
		return
	}
	if err := fsutil.AtomicInstall(tmp, m.usagePath); err != nil {
		_ = os.Remove(tmp)
		m.log.Warn().Err(err).Msg("usage history install")
	}
}

// UsageHistogram returns successful-load counts per artifact id.
func (m *Manager) UsageHistogram() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.usage))
	for id, u := range m.usage {
		out[id] = u.Count
	}
	return out
}
