package spec

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the runtime.
var (
	// ErrReportNotFound is returned when activating an unknown report id.
	ErrReportNotFound = errors.New("report not found")
	// ErrRendererNotFound is returned when no renderer is registered for a kind.
	ErrRendererNotFound = errors.New("renderer not found")
	// ErrUnknownField is returned when a filter mutation names a field absent
	// from the card's schema. This indicates a programming error in the caller.
	ErrUnknownField = errors.New("unknown filter field")
	// ErrInvalidOption is returned when a select filter receives a value
	// outside its declared options. The prior value is retained.
	ErrInvalidOption = errors.New("invalid filter option")
)

// ConfigError reports an invalid report configuration, such as overlapping
// grid cells. It is fatal to the report, not to the dashboard.
type ConfigError struct {
	ReportID string
	CardID   string
	// OtherCardID is set for pairwise conflicts such as grid overlap.
	OtherCardID string
	Reason      string
}

func (e *ConfigError) Error() string {
	if e.OtherCardID != "" {
		return fmt.Sprintf("report %s: cards %s and %s: %s", e.ReportID, e.CardID, e.OtherCardID, e.Reason)
	}
	if e.CardID != "" {
		return fmt.Sprintf("report %s: card %s: %s", e.ReportID, e.CardID, e.Reason)
	}
	return fmt.Sprintf("report %s: %s", e.ReportID, e.Reason)
}

// QueryError reports a failed query execution for a single card. The card
// keeps its last good data; no other card is affected.
type QueryError struct {
	CardID string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("card %s: query failed: %v", e.CardID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
