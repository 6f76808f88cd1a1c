package download

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "download",
			Name:      "total",
			Help:      "Finished downloads by result (completed, failed, cancelled)",
		},
		[]string{"result"},
	)

	downloadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "download",
			Name:      "retries_total",
			Help:      "Download attempts retried after a transient failure",
		},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "artifactd",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes received from artifact sources",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, downloadRetriesTotal, downloadBytesTotal)
}
