package manager

import (
	"errors"

	"github.com/prometheus/procfs"
)

// MemorySource supplies memory telemetry in MB. It is treated as a read-only
// sensor and polled at the monitor interval.
type MemorySource interface {
	AvailableMB() (int, error)
	ProcessMB() (int, error)
}

// StaticMemory reports fixed values; used when no platform source exists.
type StaticMemory struct {
	AvailableMBValue int
	ProcessMBValue   int
}

func (s StaticMemory) AvailableMB() (int, error) { return s.AvailableMBValue, nil }
func (s StaticMemory) ProcessMB() (int, error)   { return s.ProcessMBValue, nil }

// procfsMemory reads /proc/meminfo and /proc/self/status.
type procfsMemory struct {
	fs procfs.FS
}

// NewProcfsMemory returns a MemorySource backed by the default /proc mount.
func NewProcfsMemory() (MemorySource, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	if _, err := fs.Meminfo(); err != nil {
		return nil, err
	}
	return procfsMemory{fs: fs}, nil
}

func (p procfsMemory) AvailableMB() (int, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mi.MemAvailable != nil {
		return int(*mi.MemAvailable / 1024), nil
	}
	// kernels before 3.14 lack MemAvailable
	if mi.MemFree == nil {
		return 0, errors.New("meminfo: no MemAvailable or MemFree")
	}
	kb := *mi.MemFree
	if mi.Cached != nil {
		kb += *mi.Cached
	}
	return int(kb / 1024), nil
}

func (p procfsMemory) ProcessMB() (int, error) {
	self, err := p.fs.Self()
	if err != nil {
		return 0, err
	}
	st, err := self.NewStatus()
	if err != nil {
		return 0, err
	}
	return int(st.VmRSS >> 20), nil
}
