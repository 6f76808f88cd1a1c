package download

// Phase tags a Progress value.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarted     Phase = "started"
	PhaseDownloading Phase = "downloading"
	PhaseVerifying   Phase = "verifying"
	PhaseRetrying    Phase = "retrying"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Progress is one observation of a download. Fields beyond Phase are only
// meaningful for the phases noted.
type Progress struct {
	Phase Phase `json:"phase"`

	// Downloading
	BytesTransferred int64   `json:"bytes_transferred,omitempty"`
	TotalBytes       int64   `json:"total_bytes,omitempty"`
	BytesPerSecond   float64 `json:"bytes_per_second,omitempty"`
	ETASeconds       float64 `json:"eta_seconds,omitempty"`

	// Retrying
	Attempt     int   `json:"attempt,omitempty"`
	MaxAttempts int   `json:"max_attempts,omitempty"`
	BackoffMs   int64 `json:"backoff_ms,omitempty"`

	// Completed
	Path string `json:"path,omitempty"`

	// Failed
	Cause string `json:"cause,omitempty"`
}

// Terminal reports whether no further progress follows.
func (p Progress) Terminal() bool {
	return p.Phase == PhaseCompleted || p.Phase == PhaseFailed
}

// downloading computes throughput and ETA for a chunk boundary.
func downloading(transferred, total, elapsedMs int64) Progress {
	p := Progress{Phase: PhaseDownloading, BytesTransferred: transferred, TotalBytes: total}
	if elapsedMs > 0 {
		p.BytesPerSecond = float64(transferred) * 1000 / float64(elapsedMs)
	}
	if p.BytesPerSecond > 0 && total > transferred {
		p.ETASeconds = float64(total-transferred) / p.BytesPerSecond
	}
	return p
}
