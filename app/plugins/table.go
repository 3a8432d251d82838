package plugins

import (
	"fmt"

	"github.com/cardgrid/cardgrid/core/render"
)

// TableColumn declares one rendered column.
type TableColumn struct {
	Field string `mapstructure:"field"`
	Title string `mapstructure:"title"`
}

// TableSettings configures a table card.
type TableSettings struct {
	Columns []TableColumn `mapstructure:"columns"`
}

// TableElement is the rendered table artifact: column headers plus row cells
// in column order.
type TableElement struct {
	Columns []TableColumn
	Rows    [][]any
	Theme   string
}

func (TableElement) Kind() string { return "table" }

// TableRenderer projects record fields into declared columns.
type TableRenderer struct{}

func (r *TableRenderer) Render(data any, settings map[string]any, theme string) (render.Element, error) {
	var s TableSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	records := toRecords(data)
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		row := make([]any, len(s.Columns))
		for i, col := range s.Columns {
			row[i] = obj[col.Field]
		}
		rows = append(rows, row)
	}
	return TableElement{Columns: s.Columns, Rows: rows, Theme: theme}, nil
}

// ValidateSettings requires at least one declared column.
func (r *TableRenderer) ValidateSettings(settings map[string]any) error {
	var s TableSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("table card requires columns")
	}
	for _, col := range s.Columns {
		if col.Field == "" {
			return fmt.Errorf("table column requires a field")
		}
	}
	return nil
}
