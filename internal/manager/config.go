package manager

import (
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog"

	"artifactd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultLowMemoryMB       = 200
	defaultCriticalMemoryMB  = 100
	defaultMonitorInterval   = 10 * time.Second
	defaultInactivityTimeout = 5 * time.Minute
	smartPreloadTop          = 3
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Catalog []types.Descriptor
	Loaders map[types.Category]Loader
	// Memory is polled for admission and by the pressure monitor.
	Memory MemorySource
	Clock  clock.Clock
	// LowMemoryMB is both the admission safety margin and the LOW pressure threshold.
	LowMemoryMB      int
	CriticalMemoryMB int
	MonitorInterval  time.Duration
	// InactivityTimeout unloads non-critical artifacts idle for longer than this.
	InactivityTimeout time.Duration
	// UsagePath persists per-artifact usage counts; empty disables persistence.
	UsagePath string
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// New constructs a Manager from Config.
func New(cfg Config) *Manager {
	m := &Manager{
		catalog:    make(map[string]types.Descriptor, len(cfg.Catalog)),
		entries:    make(map[string]*entry),
		loaders:    make(map[types.Category]Loader),
		memory:     cfg.Memory,
		clock:      cfg.Clock,
		lowMB:      cfg.LowMemoryMB,
		criticalMB: cfg.CriticalMemoryMB,
		interval:   cfg.MonitorInterval,
		inactivity: cfg.InactivityTimeout,
		usagePath:  cfg.UsagePath,
		usage:      make(map[string]usageRecord),
		publisher:  cfg.Publisher,
		foreground: true,
		log:        zerolog.Nop(),
	}
	for _, d := range cfg.Catalog {
		if _, dup := m.catalog[d.ID]; !dup {
			m.order = append(m.order, d.ID)
		}
		m.catalog[d.ID] = d
	}
	for c, l := range cfg.Loaders {
		m.loaders[c] = l
	}
	// Apply defaults if unset
	if m.memory == nil {
		m.memory = StaticMemory{AvailableMBValue: 1 << 30}
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.lowMB <= 0 {
		m.lowMB = defaultLowMemoryMB
	}
	if m.criticalMB <= 0 {
		m.criticalMB = defaultCriticalMemoryMB
	}
	if m.criticalMB > m.lowMB {
		m.criticalMB = m.lowMB
	}
	if m.interval <= 0 {
		m.interval = defaultMonitorInterval
	}
	if m.inactivity <= 0 {
		m.inactivity = defaultInactivityTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	m.startTime = m.clock.Now()
	m.loadUsage()
	return m
}
