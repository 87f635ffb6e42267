package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// ErrDeviceNotRegistered is returned by Create* methods when no factory has
// been registered under the requested kind.
var ErrDeviceNotRegistered = errors.New("config: device kind not registered")

// SourceFactory opens a frame source described by cfg.
type SourceFactory func(cfg AudioConfig) (audio.FrameSource, error)

// SinkFactory opens a playback sink on the named output device. An empty
// device selects the host default.
type SinkFactory func(cfg AudioConfig, device string) (audio.PlaybackSink, error)

// Registry maps source and sink kinds to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
	}
}

// RegisterSource registers a source factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterSource(kind string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = factory
}

// RegisterSink registers a sink factory under kind.
func (r *Registry) RegisterSink(kind string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[kind] = factory
}

// CreateSource opens the source selected by cfg.Source.
// Returns [ErrDeviceNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.FrameSource, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrDeviceNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// CreateSink opens the sink selected by cfg.Sink on device.
func (r *Registry) CreateSink(cfg AudioConfig, device string) (audio.PlaybackSink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[cfg.Sink]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrDeviceNotRegistered, cfg.Sink)
	}
	return factory(cfg, device)
}

// Sources returns the registered source kinds in sorted order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.sources))
	for k := range r.sources {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Sinks returns the registered sink kinds in sorted order.
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.sinks))
	for k := range r.sinks {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
