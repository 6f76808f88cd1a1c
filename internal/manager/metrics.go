package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Load attempts by result (loaded, failed, rejected)",
		},
		[]string{"result"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Artifacts unloaded by the manager, by reason",
		},
		[]string{"reason"},
	)

	loadedMBGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "artifactd",
			Subsystem: "manager",
			Name:      "loaded_mb",
			Help:      "Sum of footprints of loaded artifacts",
		},
	)

	loadedArtifactsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "artifactd",
			Subsystem: "manager",
			Name:      "loaded_artifacts",
			Help:      "Number of resident artifacts",
		},
	)

	pressureGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "artifactd",
			Subsystem: "manager",
			Name:      "memory_pressure",
			Help:      "Memory pressure level (0 normal, 1 low, 2 critical)",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, evictionsTotal, loadedMBGauge, loadedArtifactsGauge, pressureGauge)
}

func (m *Manager) updateGaugesLocked() {
	n := 0
	for _, e := range m.entries {
		if e.state == StateLoaded {
			n++
		}
	}
	loadedMBGauge.Set(float64(m.loadedMB))
	loadedArtifactsGauge.Set(float64(n))
	pressureGauge.Set(float64(m.pressure))
}
