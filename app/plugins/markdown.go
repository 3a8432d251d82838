package plugins

import (
	"fmt"

	"github.com/cardgrid/cardgrid/core/render"
)

// MarkdownSettings configures a static markdown card.
type MarkdownSettings struct {
	Content string `mapstructure:"content"`
}

// MarkdownElement is the rendered markdown artifact.
type MarkdownElement struct {
	Content string
	Theme   string
}

func (MarkdownElement) Kind() string { return "markdown" }

// MarkdownRenderer renders static markdown cards. They carry no query; the
// content lives entirely in the card settings.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(_ any, settings map[string]any, theme string) (render.Element, error) {
	var s MarkdownSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return MarkdownElement{Content: s.Content, Theme: theme}, nil
}

// ValidateSettings rejects markdown cards without content.
func (r *MarkdownRenderer) ValidateSettings(settings map[string]any) error {
	var s MarkdownSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	if s.Content == "" {
		return fmt.Errorf("markdown card requires content")
	}
	return nil
}
