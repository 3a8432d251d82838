// Package render defines the renderer contract and the card-kind registry.
// Renderers are external collaborators: the runtime only knows that a
// renderer turns (data, settings, theme) into an Element.
package render

import (
	"fmt"
	"sync"

	"github.com/cardgrid/cardgrid/core/spec"
)

// Element is the opaque visual artifact produced by a renderer.
type Element interface {
	Kind() string
}

// Renderer maps card data and settings to a visual element.
type Renderer interface {
	Render(data any, settings map[string]any, theme string) (Element, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(data any, settings map[string]any, theme string) (Element, error)

func (f RendererFunc) Render(data any, settings map[string]any, theme string) (Element, error) {
	return f(data, settings, theme)
}

// SettingsValidator is implemented by renderers that can validate a card's
// opaque settings at composition time.
type SettingsValidator interface {
	ValidateSettings(settings map[string]any) error
}

// Registry maps card kinds to renderers. Registration is idempotent: the last
// registration for a kind wins, so renderers can be swapped at runtime.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

// Register binds a renderer to a kind, replacing any previous binding.
func (r *Registry) Register(kind string, renderer Renderer) {
	r.mu.Lock()
	r.renderers[kind] = renderer
	r.mu.Unlock()
}

// Resolve returns the renderer registered for the kind. A missing kind is a
// recoverable condition reported as spec.ErrRendererNotFound.
func (r *Registry) Resolve(kind string) (Renderer, error) {
	r.mu.RLock()
	renderer, ok := r.renderers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", kind, spec.ErrRendererNotFound)
	}
	return renderer, nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.renderers))
	for k := range r.renderers {
		out = append(out, k)
	}
	return out
}

// Placeholder is the element shown for a card whose kind has no registered
// renderer or whose renderer failed. It never fails the rest of the report.
type Placeholder struct {
	CardID string
	Reason string
}

// Kind implements Element.
func (Placeholder) Kind() string { return "placeholder" }
