package plugins

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// decodeSettings maps a card's opaque settings onto a typed settings struct.
// Unknown keys are tolerated so hosts can attach extra metadata to cards.
func decodeSettings(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// toRecords normalizes card data into a flat record list. Streaming buffers
// arrive as []any; one-shot responses may be a bare array, an envelope with a
// "data" array, or a single object.
func toRecords(data any) []any {
	switch d := data.(type) {
	case nil:
		return nil
	case []any:
		return d
	case map[string]any:
		if inner, ok := d["data"].([]any); ok {
			return inner
		}
		return []any{d}
	default:
		return []any{d}
	}
}
