// Package filter holds per-card filter state and validates mutations against
// the card's declared schema. Accepted mutations signal the query engine to
// restart the card's query.
package filter

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cardgrid/cardgrid/core/logger"
	"github.com/cardgrid/cardgrid/core/spec"
)

// Binding owns the filter values of one report's cards. Values start empty
// and are mutated only through Set.
type Binding struct {
	mu       sync.Mutex
	schemas  map[string][]spec.FilterField
	values   map[string]map[string]string
	log      logger.Logger
	onChange func(cardID string)
}

// NewBinding creates a Binding for the report. onChange is invoked after each
// accepted mutation with the affected card id; it may be nil.
func NewBinding(report spec.Report, log logger.Logger, onChange func(cardID string)) *Binding {
	schemas := make(map[string][]spec.FilterField, len(report.Cards))
	for _, c := range report.Cards {
		if len(c.Filters) > 0 {
			schemas[c.ID] = c.Filters
		}
	}
	return &Binding{
		schemas:  schemas,
		values:   make(map[string]map[string]string),
		log:      log,
		onChange: onChange,
	}
}

// Set validates and applies one filter value. An unknown card or field is a
// programming error on the caller's side: it is rejected with
// spec.ErrUnknownField and logged as a warning. A select value outside the
// declared options (the empty string is the "All" sentinel) is rejected with
// spec.ErrInvalidOption and the prior value is retained.
func (b *Binding) Set(cardID, field, value string) error {
	b.mu.Lock()
	f, err := b.lookup(cardID, field)
	if err != nil {
		b.mu.Unlock()
		b.log.Warnf("filter set rejected: card=%s field=%s: %v", cardID, field, err)
		return err
	}
	if err := validateValue(f, value); err != nil {
		b.mu.Unlock()
		return err
	}
	vals := b.values[cardID]
	if vals == nil {
		vals = make(map[string]string)
		b.values[cardID] = vals
	}
	if value == "" {
		delete(vals, field)
	} else {
		vals[field] = value
	}
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(cardID)
	}
	return nil
}

// Values returns a copy of the card's current filter values.
func (b *Binding) Values(cardID string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	vals := b.values[cardID]
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}

func (b *Binding) lookup(cardID, field string) (spec.FilterField, error) {
	schema, ok := b.schemas[cardID]
	if !ok {
		return spec.FilterField{}, fmt.Errorf("card %s has no filter schema: %w", cardID, spec.ErrUnknownField)
	}
	for _, f := range schema {
		if f.Name == field {
			return f, nil
		}
	}
	return spec.FilterField{}, fmt.Errorf("card %s field %s: %w", cardID, field, spec.ErrUnknownField)
}

func validateValue(f spec.FilterField, value string) error {
	if value == "" {
		return nil
	}
	switch f.Variant {
	case spec.FieldNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("field %s: value %q is not numeric: %w", f.Name, value, spec.ErrInvalidOption)
		}
	case spec.FieldSelect:
		for _, opt := range f.Options {
			if opt == value {
				return nil
			}
		}
		return fmt.Errorf("field %s: value %q not among options: %w", f.Name, value, spec.ErrInvalidOption)
	}
	return nil
}
