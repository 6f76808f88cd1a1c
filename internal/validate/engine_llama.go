//go:build llama

package validate

import (
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

type llamaEngine struct {
	ctxSize int
}

// NewLlamaEngine returns an Engine that loads GGUF language models with go-llama.cpp.
func NewLlamaEngine(ctxSize int) Engine {
	return &llamaEngine{ctxSize: ctxSize}
}

// llamaHandle owns a loaded model. A causal LM exposes one token input and one
// logits output; go-llama.cpp does not surface tensor metadata beyond that.
type llamaHandle struct {
	model *llama.LLama
}

func (e *llamaEngine) Open(path string) (Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	opts := []llama.ModelOption{llama.SetContext(e.ctxSize)}
	m, err := llama.New(path, opts...)
	if err != nil {
		return nil, err
	}
	return &llamaHandle{model: m}, nil
}

func (h *llamaHandle) InputCount() int {
	if h.model == nil {
		return 0
	}
	return 1
}

func (h *llamaHandle) OutputCount() int {
	if h.model == nil {
		return 0
	}
	return 1
}

func (h *llamaHandle) Close() error {
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}
