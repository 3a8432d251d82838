package spec

import (
	"errors"
	"testing"
)

func validDashboard() Dashboard {
	d := Dashboard{
		ID: "dash",
		Reports: []Report{{
			ID: "overview",
			Cards: []Card{
				{ID: "md", Kind: "markdown", Position: GridPosition{X: 0, Y: 0, W: 6, H: 4}},
				{
					ID:       "kpi",
					Kind:     "number",
					Position: GridPosition{X: 6, Y: 0, W: 6, H: 4},
					Query:    &Query{Variant: VariantHTTP, URL: "http://api/kpi"},
				},
			},
		}},
	}
	d.SetDefaults()
	return d
}

func TestDashboardDefaults(t *testing.T) {
	d := validDashboard()
	if d.Config.RefreshIntervalMs != 30000 {
		t.Errorf("refresh interval: got %d", d.Config.RefreshIntervalMs)
	}
	if d.Config.MaxConcurrentQueries != 8 {
		t.Errorf("max concurrent: got %d", d.Config.MaxConcurrentQueries)
	}
	if d.Config.Theme != "light" {
		t.Errorf("theme: got %q", d.Config.Theme)
	}
	r := d.Reports[0]
	if r.Layout.Columns != 12 || r.Layout.RowHeightPx != 30 || r.Layout.MarginPx != [2]int{10, 10} {
		t.Errorf("layout defaults: %+v", r.Layout)
	}
	q := r.Cards[1].Query
	if q.Method != "GET" || q.MergePolicy != MergeAppend || q.BufferSize != 500 {
		t.Errorf("query defaults: %+v", q)
	}
	if q.StreamFormat != "" || q.StreamDelimiter != "" {
		t.Errorf("one-shot query must not get stream defaults: %+v", q)
	}
}

func TestStreamingQueryDefaults(t *testing.T) {
	q := Query{Variant: VariantStreamingHTTP, URL: "http://api/live"}
	q.SetDefaults()
	if q.StreamFormat != "ndjson" || q.StreamDelimiter != "\n" {
		t.Fatalf("stream defaults: %+v", q)
	}
	if !q.Streaming() {
		t.Fatalf("expected streaming")
	}
	mq := Query{Variant: VariantMQTT, URL: "cards/live"}
	if !mq.Streaming() {
		t.Fatalf("mqtt must be streaming")
	}
	if (Query{Variant: VariantHTTP}).Streaming() {
		t.Fatalf("http must not be streaming")
	}
}

func TestDashboardValidate(t *testing.T) {
	if err := validDashboard().Validate(); err != nil {
		t.Fatalf("valid dashboard rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	mutate := func(fn func(*Dashboard)) Dashboard {
		d := validDashboard()
		fn(&d)
		return d
	}
	cases := []struct {
		name string
		dash Dashboard
	}{
		{"missing dashboard id", mutate(func(d *Dashboard) { d.ID = "" })},
		{"duplicate report id", mutate(func(d *Dashboard) { d.Reports = append(d.Reports, Report{ID: "overview"}) })},
		{"duplicate card id", mutate(func(d *Dashboard) { d.Reports[0].Cards[1].ID = "md" })},
		{"missing kind", mutate(func(d *Dashboard) { d.Reports[0].Cards[0].Kind = "" })},
		{"zero width", mutate(func(d *Dashboard) { d.Reports[0].Cards[0].Position.W = 0 })},
		{"negative position", mutate(func(d *Dashboard) { d.Reports[0].Cards[0].Position.X = -1 })},
		{"exceeds columns", mutate(func(d *Dashboard) { d.Reports[0].Cards[1].Position.W = 8 })},
		{"unknown variant", mutate(func(d *Dashboard) { d.Reports[0].Cards[1].Query.Variant = "grpc" })},
		{"missing url", mutate(func(d *Dashboard) { d.Reports[0].Cards[1].Query.URL = "" })},
		{"stream fields on one-shot", mutate(func(d *Dashboard) { d.Reports[0].Cards[1].Query.StreamFormat = "ndjson" })},
		{"unknown merge policy", mutate(func(d *Dashboard) { d.Reports[0].Cards[1].Query.MergePolicy = "squash" })},
		{"select without options", mutate(func(d *Dashboard) {
			d.Reports[0].Cards[1].Filters = []FilterField{{Name: "region", Variant: FieldSelect}}
		})},
		{"options on text field", mutate(func(d *Dashboard) {
			d.Reports[0].Cards[1].Filters = []FilterField{{Name: "q", Variant: FieldText, Options: []string{"a"}}}
		})},
		{"duplicate filter name", mutate(func(d *Dashboard) {
			d.Reports[0].Cards[1].Filters = []FilterField{
				{Name: "q", Variant: FieldText},
				{Name: "q", Variant: FieldText},
			}
		})},
		{"unknown filter variant", mutate(func(d *Dashboard) {
			d.Reports[0].Cards[1].Filters = []FilterField{{Name: "q", Variant: "slider"}}
		})},
	}
	for _, c := range cases {
		if err := c.dash.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestValidateConfigErrorDetail(t *testing.T) {
	d := validDashboard()
	d.Reports[0].Cards[1].Query.URL = ""
	err := d.Validate()
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError got %T", err)
	}
	if cerr.ReportID != "overview" || cerr.CardID != "kpi" {
		t.Fatalf("wrong error detail: %+v", cerr)
	}
}

func TestGridPositionOverlaps(t *testing.T) {
	a := GridPosition{X: 0, Y: 0, W: 4, H: 2}
	cases := []struct {
		name string
		b    GridPosition
		want bool
	}{
		{"identical", a, true},
		{"partial", GridPosition{X: 2, Y: 1, W: 4, H: 2}, true},
		{"contained", GridPosition{X: 1, Y: 0, W: 1, H: 1}, true},
		{"adjacent right", GridPosition{X: 4, Y: 0, W: 2, H: 2}, false},
		{"adjacent below", GridPosition{X: 0, Y: 2, W: 4, H: 2}, false},
		{"disjoint", GridPosition{X: 8, Y: 8, W: 2, H: 2}, false},
	}
	for _, c := range cases {
		if got := a.Overlaps(c.b); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
		if got := c.b.Overlaps(a); got != c.want {
			t.Errorf("%s (reversed): got %v want %v", c.name, got, c.want)
		}
	}
}

func TestReportLookup(t *testing.T) {
	d := validDashboard()
	if _, ok := d.Report("overview"); !ok {
		t.Fatalf("expected report found")
	}
	if _, ok := d.Report("nope"); ok {
		t.Fatalf("expected report missing")
	}
}

func TestQueryErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &QueryError{CardID: "c1", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrap to cause")
	}
}
