package manager

import (
	"errors"
	"fmt"

	"artifactd/pkg/types"
)

// artifactNotFoundError is returned when an id is not present in the catalog.
type artifactNotFoundError struct{ id string }

func (e artifactNotFoundError) Error() string { return "artifact not found: " + e.id }

// ErrArtifactNotFound returns an error for an id missing from the catalog.
func ErrArtifactNotFound(id string) error { return artifactNotFoundError{id: id} }

// IsArtifactNotFound reports whether err indicates an unknown artifact id.
func IsArtifactNotFound(err error) bool {
	var e artifactNotFoundError
	return errors.As(err, &e)
}

// InsufficientMemoryError is returned when admission cannot make room even
// after considering every lower-priority artifact.
type InsufficientMemoryError struct {
	ID          string
	RequiredMB  int
	AvailableMB int
}

func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient memory for %s: need %d MB, %d MB obtainable", e.ID, e.RequiredMB, e.AvailableMB)
}

// IsInsufficientMemory reports whether err is an admission failure.
func IsInsufficientMemory(err error) bool {
	var e *InsufficientMemoryError
	return errors.As(err, &e)
}

// missingLoaderError is a programming error: no loader registered for a category.
type missingLoaderError struct{ category types.Category }

func (e missingLoaderError) Error() string {
	return fmt.Sprintf("no loader registered for category %q", e.category)
}

// IsMissingLoader reports whether err indicates an unregistered category.
func IsMissingLoader(err error) bool {
	var e missingLoaderError
	return errors.As(err, &e)
}

// ErrClosed is returned by operations on a Manager after Close.
var ErrClosed = errors.New("manager closed")

// busyError signals an operation refused because the artifact is mid-load.
type busyError struct{ id string }

func (e busyError) Error() string { return "artifact is loading: " + e.id }

// ErrBusy returns the error used to refuse operations on an artifact that
// is still loading.
func ErrBusy(id string) error { return busyError{id: id} }

// IsBusy reports whether err indicates the artifact is currently loading.
func IsBusy(err error) bool {
	var e busyError
	return errors.As(err, &e)
}
