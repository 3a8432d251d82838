// Package spec defines the dashboard specification consumed by the composer:
// a dashboard holds reports, a report holds cards on a grid, and a card may
// declare a data query and a filter schema. Specifications are immutable once
// loaded; a reload swaps the whole value.
package spec

// Variant identifies how a card's data is obtained.
type Variant string

const (
	// VariantHTTP is a one-shot request/response fetch.
	VariantHTTP Variant = "http"
	// VariantStreamingHTTP is a long-lived response body of delimited records.
	VariantStreamingHTTP Variant = "streaming-http"
	// VariantMQTT subscribes to a broker topic carrying one record per message.
	VariantMQTT Variant = "mqtt"
)

// Merge policies for streaming buffers.
const (
	MergeAppend  = "append"
	MergeReplace = "replace"
)

// Filter field variants.
const (
	FieldText   = "text"
	FieldNumber = "number"
	FieldSelect = "select"
)

// Config carries dashboard-wide runtime settings.
type Config struct {
	RefreshIntervalMs    int    `json:"refreshIntervalMs"`
	MaxConcurrentQueries int    `json:"maxConcurrentQueries"`
	Theme                string `json:"theme"`
	Animations           bool   `json:"animations"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RefreshIntervalMs <= 0 {
		c.RefreshIntervalMs = 30000
	}
	if c.MaxConcurrentQueries <= 0 {
		c.MaxConcurrentQueries = 8
	}
	if c.Theme == "" {
		c.Theme = "light"
	}
}

// Dashboard is the top-level container of reports.
type Dashboard struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Config      Config   `json:"config"`
	Reports     []Report `json:"reports"`
}

// Report returns the report with the given id, or false.
func (d Dashboard) Report(id string) (Report, bool) {
	for _, r := range d.Reports {
		if r.ID == id {
			return r, true
		}
	}
	return Report{}, false
}

// Report is an ordered collection of cards sharing one grid layout.
type Report struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Layout LayoutStrategy `json:"layout"`
	Cards  []Card         `json:"cards"`
}

// LayoutStrategy describes the report grid.
type LayoutStrategy struct {
	Columns     int    `json:"columns"`
	RowHeightPx int    `json:"rowHeightPx"`
	MarginPx    [2]int `json:"marginPx"`
}

// SetDefaults applies sane defaults.
func (l *LayoutStrategy) SetDefaults() {
	if l.Columns <= 0 {
		l.Columns = 12
	}
	if l.RowHeightPx <= 0 {
		l.RowHeightPx = 30
	}
	if l.MarginPx[0] == 0 && l.MarginPx[1] == 0 {
		l.MarginPx = [2]int{10, 10}
	}
}

// GridPosition places a card on the grid in grid units.
type GridPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Overlaps reports whether two positions share at least one grid cell.
func (p GridPosition) Overlaps(o GridPosition) bool {
	return p.X < o.X+o.W && o.X < p.X+p.W && p.Y < o.Y+o.H && o.Y < p.Y+p.H
}

// Card is a single visual unit: a renderer kind, a grid position, opaque
// renderer settings, an optional filter schema and an optional data query.
// Static cards such as markdown have no query.
type Card struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Position GridPosition   `json:"position"`
	Settings map[string]any `json:"settings"`
	Filters  []FilterField  `json:"filters"`
	Query    *Query         `json:"query"`
}

// FilterField declares one entry of a card's filter schema.
type FilterField struct {
	Name    string   `json:"name"`
	Variant string   `json:"variant"`
	Options []string `json:"options"`
}

// Query declares a card's data source.
type Query struct {
	Variant Variant           `json:"variant"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params"`
	// StreamFormat and StreamDelimiter apply to streaming variants only.
	StreamFormat    string `json:"streamFormat"`
	StreamDelimiter string `json:"streamDelimiter"`
	// MergePolicy selects how incremental records update the card buffer.
	MergePolicy string `json:"mergePolicy"`
	// BufferSize caps the in-memory record buffer under the append policy.
	BufferSize int `json:"bufferSize"`
	// Cumulative marks the server-side stream as a growing snapshot whose
	// records survive a reconnect instead of being discarded.
	Cumulative bool `json:"cumulative"`
}

// Streaming reports whether the query yields a continuous record stream.
func (q Query) Streaming() bool {
	return q.Variant == VariantStreamingHTTP || q.Variant == VariantMQTT
}

// SetDefaults applies sane defaults.
func (q *Query) SetDefaults() {
	if q.Method == "" {
		q.Method = "GET"
	}
	if q.Streaming() {
		if q.StreamFormat == "" {
			q.StreamFormat = "ndjson"
		}
		if q.StreamDelimiter == "" {
			q.StreamDelimiter = "\n"
		}
	}
	if q.MergePolicy == "" {
		q.MergePolicy = MergeAppend
	}
	if q.BufferSize <= 0 {
		q.BufferSize = 500
	}
}

// Record is the envelope emitted by card data endpoints.
type Record struct {
	Kind     string `json:"kind"`
	ReportID string `json:"report_id"`
	CardID   string `json:"card_id"`
	Data     any    `json:"data"`
}
