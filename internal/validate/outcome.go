package validate

import "errors"

// Reason classifies a failed validation.
type Reason string

const (
	ReasonFileNotFound      Reason = "file-not-found"
	ReasonEmptyFile         Reason = "empty-file"
	ReasonSizeMismatch      Reason = "size-mismatch"
	ReasonChecksumMismatch  Reason = "checksum-mismatch"
	ReasonCorruptedArtifact Reason = "corrupted-artifact"
	ReasonLoadTestFailed    Reason = "load-test-failed"
	ReasonInvalidStructure  Reason = "invalid-structure"
)

// Outcome is the result of a validation. A zero Reason means success; on
// failure only Reason and Detail are meaningful.
type Outcome struct {
	Reason Reason
	Detail string

	SizeBytes int64
	// Checksum is the lower-case hex SHA-256, set only when computed.
	Checksum string
	// LoadTested is true when the engine load test ran; Inputs/Outputs are its tensor counts.
	LoadTested bool
	Inputs     int
	Outputs    int
}

// OK reports whether validation succeeded.
func (o Outcome) OK() bool { return o.Reason == "" }

// Err returns nil on success and an *Error otherwise.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &Error{Reason: o.Reason, Detail: o.Detail}
}

func failed(r Reason, detail string) Outcome { return Outcome{Reason: r, Detail: detail} }

// Error wraps a failed Outcome for error-return call paths.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Reason)
	}
	return "validation failed: " + string(e.Reason) + ": " + e.Detail
}

// ReasonOf extracts the Reason from err, or "" when err is not a validation error.
func ReasonOf(err error) Reason {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// IsChecksumMismatch reports whether err is a checksum-mismatch validation failure.
func IsChecksumMismatch(err error) bool { return ReasonOf(err) == ReasonChecksumMismatch }

// IsTerminal reports whether the failure indicates a bad build or source
// (corrupted or structurally invalid) that retrying cannot fix.
func IsTerminal(err error) bool {
	switch ReasonOf(err) {
	case ReasonCorruptedArtifact, ReasonInvalidStructure, ReasonLoadTestFailed:
		return true
	}
	return false
}
