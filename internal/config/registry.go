package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/voxdesk/pkg/audio/decode"
	"github.com/MrWong99/voxdesk/pkg/provider/avatar"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
	"github.com/MrWong99/voxdesk/pkg/provider/stt"
	"github.com/MrWong99/voxdesk/pkg/provider/tts"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name-to-constructor table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	decoder factories[decode.Factory]
	vad     factories[vad.Classifier]
	stt     factories[stt.Provider]
	llm     factories[llm.Provider]
	tts     factories[tts.Provider]
	avatar  factories[avatar.Renderer]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		decoder: newFactories[decode.Factory]("decoder"),
		vad:     newFactories[vad.Classifier]("vad"),
		stt:     newFactories[stt.Provider]("stt"),
		llm:     newFactories[llm.Provider]("llm"),
		tts:     newFactories[tts.Provider]("tts"),
		avatar:  newFactories[avatar.Renderer]("avatar"),
	}
}

// RegisterDecoder registers a decoder factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDecoder(name string, f Factory[decode.Factory]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoder.m[name] = f
}

// RegisterVAD registers a voice activity classifier factory under name.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Classifier]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = f
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterAvatar registers an avatar renderer factory under name.
func (r *Registry) RegisterAvatar(name string, f Factory[avatar.Renderer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avatar.m[name] = f
}

// CreateDecoder returns the decoder factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDecoder(entry ProviderEntry) (decode.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decoder.create(entry)
}

// CreateVAD instantiates a classifier using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Classifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateAvatar instantiates an avatar renderer using the factory registered under entry.Name.
func (r *Registry) CreateAvatar(entry ProviderEntry) (avatar.Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.avatar.create(entry)
}

// Registered returns the sorted provider names registered for kind, or nil
// for an unknown kind.
func (r *Registry) Registered(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "decoder":
		return r.decoder.names()
	case "vad":
		return r.vad.names()
	case "stt":
		return r.stt.names()
	case "llm":
		return r.llm.names()
	case "tts":
		return r.tts.names()
	case "avatar":
		return r.avatar.names()
	}
	return nil
}
