// Package plugins holds the renderer factories for the built-in card kinds.
// Factories are registered by kind at init time and instantiated into a
// render.Registry by Install; hosts may register additional kinds the same
// way before or after installation.
package plugins

import "github.com/cardgrid/cardgrid/core/render"

// RendererFactory builds a renderer for a card kind.
type RendererFactory func(kind string) (render.Renderer, error)

// Renderers maps card kinds to their factories.
var Renderers = map[string]RendererFactory{}

// RegisterRenderer binds a factory to a kind. Last registration wins.
func RegisterRenderer(kind string, f RendererFactory) { Renderers[kind] = f }

// Install instantiates every registered factory into the registry.
func Install(reg *render.Registry) error {
	for kind, factory := range Renderers {
		r, err := factory(kind)
		if err != nil {
			return err
		}
		reg.Register(kind, r)
	}
	return nil
}
