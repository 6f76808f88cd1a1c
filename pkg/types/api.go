package types

// ArtifactsResponse wraps the catalog returned by GET /artifacts.
type ArtifactsResponse struct {
	Artifacts []Descriptor `json:"artifacts"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: artifact not found: whisper-small
	Error string `json:"error" example:"artifact not found: whisper-small"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// ArtifactStatus summarizes one tracked artifact for /status.
type ArtifactStatus struct {
	// example: whisper-small
	ID string `json:"id" example:"whisper-small"`
	// Lifecycle state (loading, loaded, failed).
	// example: loaded
	State string `json:"state" example:"loaded"`
	// example: normal
	Priority string `json:"priority" example:"normal"`
	// Load time (unix seconds); zero unless loaded.
	LoadedAt int64 `json:"loaded_at_unix,omitempty"`
	// Last access (unix seconds); zero unless loaded.
	LastAccess int64 `json:"last_access_unix,omitempty"`
	// Resident footprint in MB (reserved while loading).
	// example: 300
	FootprintMB int `json:"footprint_mb" example:"300"`
	// Failure reason when state is failed.
	Error string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Artifacts []ArtifactStatus `json:"artifacts"`
	// Sum of footprints of loaded artifacts in MB.
	// example: 450
	LoadedMB int `json:"loaded_mb" example:"450"`
	// Last sampled available system memory in MB.
	// example: 2048
	AvailableMB int `json:"available_mb" example:"2048"`
	// Last sampled process memory in MB.
	ProcessMB int `json:"process_mb,omitempty"`
	// Memory pressure level (normal, low, critical).
	// example: normal
	Pressure string `json:"pressure" example:"normal"`
	// Whether the host is in the foreground.
	Foreground bool `json:"foreground"`
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// example: 3
	EvictionsTotal uint64 `json:"evictions_total" example:"3"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// LoadRequest is the optional body of POST /artifacts/{id}/load.
type LoadRequest struct {
	// Wait for the load to finish (default true). When false, returns 202.
	Wait *bool `json:"wait,omitempty"`
}

// ForegroundRequest is the body of POST /lifecycle.
type ForegroundRequest struct {
	Foreground bool `json:"foreground"`
}
