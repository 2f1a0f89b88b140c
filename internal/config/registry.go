package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxlingo/voxlingo/pkg/provider/embeddings"
	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/provider/stt"
	"github.com/voxlingo/voxlingo/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to factories, one table per pipeline stage.
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]Factory[stt.Provider]
	llm        map[string]Factory[llm.Provider]
	tts        map[string]Factory[tts.Provider]
	embeddings map[string]Factory[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        map[string]Factory[stt.Provider]{},
		llm:        map[string]Factory[llm.Provider]{},
		tts:        map[string]Factory[tts.Provider]{},
		embeddings: map[string]Factory[embeddings.Provider]{},
	}
}

// RegisterSTT registers an STT factory under name; re-registering a name
// overwrites it. The other Register methods behave the same.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterLLM registers an LLM factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = f
}

// CreateSTT instantiates the STT provider named by entry, or
// [ErrProviderNotRegistered].
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, "stt", entry)
}

// CreateLLM instantiates the LLM provider named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, "llm", entry)
}

// CreateTTS instantiates the TTS provider named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(&r.mu, r.tts, "tts", entry)
}

// CreateEmbeddings instantiates the embeddings provider named by entry.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return create(&r.mu, r.embeddings, "embeddings", entry)
}

func create[T any](mu *sync.RWMutex, table map[string]Factory[T], stage string, entry ProviderEntry) (T, error) {
	mu.RLock()
	f, ok := table[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, stage, entry.Name)
	}
	return f(entry)
}
