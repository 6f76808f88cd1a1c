// Package manager owns the lifecycle of loaded artifacts: admission against
// available memory, priority-ordered eviction, background monitors, and
// preloading. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: State, Record, PressureLevel.
//   - errors.go: error types and helpers (IsArtifactNotFound, IsInsufficientMemory, ...).
//   - loader.go: Loader plugin interface, FileLoader and the in-memory blob opener.
//   - ensure.go: EnsureLoaded and memory admission.
//   - evict.go: eviction helpers shared by admission and monitors.
//   - unload.go: explicit Unload and shutdown release.
//   - monitor.go: periodic memory-pressure and inactivity monitors, foreground hook.
//   - preload.go: PreloadCritical and SmartPreload.
//   - telemetry.go: MemorySource and the procfs-backed implementation.
//   - usage_persist.go: per-artifact usage counters persisted as JSON.
//   - status_report.go: Status/Ready reporting helpers.
//
// Handles returned by GetHandle are owned by the Manager. Callers must not
// retain them across uses; re-request the handle each time so access times
// stay current and eviction cannot race a long-lived reference.
package manager
