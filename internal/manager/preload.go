package manager

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// PreloadCritical loads every critical artifact concurrently. Failures are
// logged; the remaining artifacts still load.
func (m *Manager) PreloadCritical(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range m.criticalIDs() {
		id := id
		g.Go(func() error {
			if err := m.EnsureLoaded(gctx, id); err != nil {
				m.log.Error().Err(err).Str("artifact", id).Msg("preload critical failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// SmartPreload loads the most used artifacts that are not yet resident, up
// to three. A nil usage map falls back to the persisted usage history.
func (m *Manager) SmartPreload(ctx context.Context, usage map[string]int) error {
	if usage == nil {
		usage = m.UsageHistogram()
	}
	type kv struct {
		id    string
		count int
	}
	ranked := make([]kv, 0, len(usage))
	for id, c := range usage {
		ranked = append(ranked, kv{id, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].id < ranked[j].id
	})
	picked := 0
	for _, r := range ranked {
		if picked == smartPreloadTop {
			break
		}
		if _, ok := m.Descriptor(r.id); !ok || m.IsLoaded(r.id) {
			continue
		}
		picked++
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.EnsureLoaded(ctx, r.id); err != nil {
			m.log.Warn().Err(err).Str("artifact", r.id).Msg("smart preload failed")
		}
	}
	return nil
}
