package spec

import "fmt"

// SetDefaults fills defaults on the dashboard and everything below it.
func (d *Dashboard) SetDefaults() {
	d.Config.SetDefaults()
	for i := range d.Reports {
		d.Reports[i].Layout.SetDefaults()
		for j := range d.Reports[i].Cards {
			if q := d.Reports[i].Cards[j].Query; q != nil {
				q.SetDefaults()
			}
		}
	}
}

// Validate checks the structural invariants of the dashboard. It returns the
// first violation found as a *ConfigError.
func (d Dashboard) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("dashboard id is required")
	}
	seen := map[string]bool{}
	for _, r := range d.Reports {
		if r.ID == "" {
			return fmt.Errorf("dashboard %s: report id is required", d.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("dashboard %s: duplicate report id %s", d.ID, r.ID)
		}
		seen[r.ID] = true
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks card placement, query and filter invariants of one report.
func (r Report) Validate() error {
	ids := map[string]bool{}
	for _, c := range r.Cards {
		if c.ID == "" {
			return &ConfigError{ReportID: r.ID, Reason: "card id is required"}
		}
		if ids[c.ID] {
			return &ConfigError{ReportID: r.ID, CardID: c.ID, Reason: "duplicate card id"}
		}
		ids[c.ID] = true
		if c.Kind == "" {
			return &ConfigError{ReportID: r.ID, CardID: c.ID, Reason: "card kind is required"}
		}
		if c.Position.W <= 0 || c.Position.H <= 0 {
			return &ConfigError{ReportID: r.ID, CardID: c.ID, Reason: "card width and height must be positive"}
		}
		if c.Position.X < 0 || c.Position.Y < 0 {
			return &ConfigError{ReportID: r.ID, CardID: c.ID, Reason: "card position must not be negative"}
		}
		if c.Position.X+c.Position.W > r.Layout.Columns {
			return &ConfigError{ReportID: r.ID, CardID: c.ID,
				Reason: fmt.Sprintf("card exceeds grid width: x=%d w=%d columns=%d", c.Position.X, c.Position.W, r.Layout.Columns)}
		}
		if err := validateQuery(r.ID, c); err != nil {
			return err
		}
		if err := validateFilters(r.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func validateQuery(reportID string, c Card) error {
	q := c.Query
	if q == nil {
		return nil
	}
	switch q.Variant {
	case VariantHTTP, VariantStreamingHTTP, VariantMQTT:
	default:
		return &ConfigError{ReportID: reportID, CardID: c.ID, Reason: fmt.Sprintf("unknown query variant %q", q.Variant)}
	}
	if q.URL == "" {
		return &ConfigError{ReportID: reportID, CardID: c.ID, Reason: "query url is required"}
	}
	if q.Streaming() {
		if q.StreamFormat == "" || q.StreamDelimiter == "" {
			return &ConfigError{ReportID: reportID, CardID: c.ID,
				Reason: "streaming query requires streamFormat and streamDelimiter"}
		}
	} else if q.StreamFormat != "" || q.StreamDelimiter != "" {
		return &ConfigError{ReportID: reportID, CardID: c.ID,
			Reason: "streamFormat and streamDelimiter only apply to streaming queries"}
	}
	if q.MergePolicy != MergeAppend && q.MergePolicy != MergeReplace {
		return &ConfigError{ReportID: reportID, CardID: c.ID, Reason: fmt.Sprintf("unknown merge policy %q", q.MergePolicy)}
	}
	return nil
}

func validateFilters(reportID string, c Card) error {
	names := map[string]bool{}
	for _, f := range c.Filters {
		if f.Name == "" {
			return &ConfigError{ReportID: reportID, CardID: c.ID, Reason: "filter field name is required"}
		}
		if names[f.Name] {
			return &ConfigError{ReportID: reportID, CardID: c.ID, Reason: fmt.Sprintf("duplicate filter field %q", f.Name)}
		}
		names[f.Name] = true
		switch f.Variant {
		case FieldText, FieldNumber:
			if len(f.Options) > 0 {
				return &ConfigError{ReportID: reportID, CardID: c.ID,
					Reason: fmt.Sprintf("filter field %q: options only apply to select fields", f.Name)}
			}
		case FieldSelect:
			if len(f.Options) == 0 {
				return &ConfigError{ReportID: reportID, CardID: c.ID,
					Reason: fmt.Sprintf("select filter field %q requires options", f.Name)}
			}
		default:
			return &ConfigError{ReportID: reportID, CardID: c.ID,
				Reason: fmt.Sprintf("filter field %q: unknown variant %q", f.Name, f.Variant)}
		}
	}
	return nil
}
