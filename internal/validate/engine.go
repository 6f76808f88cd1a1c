package validate

import "errors"

// Engine constructs live inference handles for the load test.
type Engine interface {
	Open(path string) (Handle, error)
}

// Handle is a live inference-engine object built from an artifact file.
type Handle interface {
	InputCount() int
	OutputCount() int
	Close() error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(path string) (Handle, error)

func (f EngineFunc) Open(path string) (Handle, error) { return f(path) }

// dependencyUnavailableError signals the engine runtime is not compiled in.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// IsDependencyUnavailable reports whether err indicates a missing engine runtime.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// LlamaAvailable reports whether this binary carries the llama runtime.
func LlamaAvailable() bool { return llamaBuilt }
