package main

import (
	"context"
	"errors"
	"net"
	"sort"

	"artifactd/internal/download"
	"artifactd/internal/langcache"
	"artifactd/internal/manager"
	"artifactd/pkg/types"
)

// deferrer queues a descriptor for the next prefetch sweep.
type deferrer interface {
	Defer(d types.Descriptor)
}

// daemon adapts the lifecycle manager, the language pack cache and the
// download engine to the HTTP service. Language packs go to the cache and
// every other category to the manager.
type daemon struct {
	mgr     *manager.Manager
	langs   *langcache.Cache
	engine  *download.Engine
	later   deferrer
	catalog []types.Descriptor
	byID    map[string]types.Descriptor
}

func newDaemon(mgr *manager.Manager, langs *langcache.Cache, engine *download.Engine, later deferrer, catalog []types.Descriptor) *daemon {
	d := &daemon{mgr: mgr, langs: langs, engine: engine, later: later, catalog: catalog, byID: make(map[string]types.Descriptor, len(catalog))}
	for _, desc := range catalog {
		d.byID[desc.ID] = desc
	}
	return d
}

// splitCatalog separates language packs from manager-owned artifacts.
func splitCatalog(all []types.Descriptor) (managed, langs []types.Descriptor) {
	for _, d := range all {
		if d.Category == types.CategoryLanguage {
			langs = append(langs, d)
			continue
		}
		managed = append(managed, d)
	}
	return managed, langs
}

func (d *daemon) lookupLanguage(id string) (types.Descriptor, bool) {
	desc, ok := d.byID[id]
	if !ok || desc.Category != types.CategoryLanguage {
		return types.Descriptor{}, false
	}
	return desc, true
}

func (d *daemon) isLanguage(id string) bool {
	_, ok := d.lookupLanguage(id)
	return ok
}

func (d *daemon) ListArtifacts() []types.Descriptor {
	out := make([]types.Descriptor, len(d.catalog))
	copy(out, d.catalog)
	return out
}

func (d *daemon) EnsureLoaded(ctx context.Context, id string) error {
	var err error
	if d.isLanguage(id) {
		err = d.langs.EnsureLoaded(ctx, id)
	} else {
		err = d.mgr.EnsureLoaded(ctx, id)
	}
	if err != nil && d.later != nil && isTransferError(err) {
		if desc, ok := d.byID[id]; ok {
			d.later.Defer(desc)
		}
	}
	return err
}

// isTransferError reports failures that a later prefetch may fix.
func isTransferError(err error) bool {
	if download.IsCancelled(err) {
		return false
	}
	var se *download.StatusError
	var ne net.Error
	return errors.As(err, &se) || errors.As(err, &ne)
}

func (d *daemon) Unload(id string) error {
	if d.isLanguage(id) {
		return d.langs.Unload(id)
	}
	return d.mgr.Unload(id)
}

func (d *daemon) SetForeground(fg bool) { d.mgr.SetForeground(fg) }

func (d *daemon) Ready() bool { return d.mgr.Ready() }

func (d *daemon) Subscribe(id string) (<-chan download.Progress, func()) {
	return d.engine.Tracker().Subscribe(id)
}

func (d *daemon) CancelDownload(id string) bool { return d.engine.Cancel(id) }

// Status reports manager state with resident language packs merged in.
func (d *daemon) Status() types.StatusResponse {
	resp := d.mgr.Status()
	for _, id := range d.langs.Loaded() {
		desc := d.byID[id]
		st := types.ArtifactStatus{
			ID:          id,
			State:       string(manager.StateLoaded),
			Priority:    desc.Priority.String(),
			FootprintMB: desc.FootprintMB,
		}
		if h, ok := d.langs.GetHandle(id); ok {
			if f, ok := h.(manager.Footprinter); ok && f.FootprintMB() > 0 {
				st.FootprintMB = f.FootprintMB()
			}
		}
		resp.LoadedMB += st.FootprintMB
		resp.Artifacts = append(resp.Artifacts, st)
	}
	sort.Slice(resp.Artifacts, func(i, j int) bool { return resp.Artifacts[i].ID < resp.Artifacts[j].ID })
	return resp
}
