package manager

import (
	"time"

	"artifactd/pkg/types"
)

// State represents the lifecycle state of one artifact.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
)

// PressureLevel is derived from available memory against two thresholds.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureLow
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Record is the runtime state of a resident artifact. The handle is owned
// exclusively by the record and released when the record is removed.
type Record struct {
	Descriptor  types.Descriptor
	LoadedAt    time.Time
	LastAccess  time.Time
	FootprintMB int
	handle      Handle
}

// entry tracks one artifact id in the manager's table.
type entry struct {
	state      State
	desc       types.Descriptor
	reservedMB int // admission reservation while loading
	record     *Record
	err        error
}
