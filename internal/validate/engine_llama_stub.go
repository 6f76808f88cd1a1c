//go:build !llama

package validate

// This file provides a no-CGO stub for the llama engine. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds CGO-free.

var llamaBuilt = false

type llamaEngine struct {
	ctxSize int
}

// NewLlamaEngine returns an Engine that refuses to open models because the
// llama runtime is not compiled in.
func NewLlamaEngine(ctxSize int) Engine {
	return &llamaEngine{ctxSize: ctxSize}
}

func (e *llamaEngine) Open(path string) (Handle, error) {
	return nil, dependencyUnavailableError{msg: "llama support not built (missing 'llama' build tag)"}
}
