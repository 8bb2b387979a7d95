package tabexport

// Meta describes where a dataset came from.
//
// EntriesCount is sourced independently of the rows (for instance the
// unfiltered entry count) and need not equal len(Rows).
type Meta struct {
	FormID       int    `json:"form_id" yaml:"form_id"`
	FormName     string `json:"form_name" yaml:"form_name"`
	FormType     string `json:"form_type" yaml:"form_type"`
	ExportDate   string `json:"export_date" yaml:"export_date"`
	EntriesCount int    `json:"entries_count" yaml:"entries_count"`
}

// Dataset is the tabular input every encoder consumes. Rows are positionally
// aligned to Headers. Encoders treat a Dataset as read-only.
type Dataset struct {
	Headers []string `json:"headers" yaml:"headers"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
	Meta    Meta     `json:"meta" yaml:"meta"`
}

// Cells returns row i sanitized and normalized to the header width: missing
// trailing cells are empty, cells past the last header are dropped.
func (ds *Dataset) Cells(i int) []string {
	row := ds.Rows[i]
	out := make([]string, len(ds.Headers))
	for j := range out {
		if j < len(row) {
			out[j] = SanitizeValue(row[j])
		}
	}
	return out
}

// HeaderCells returns the headers sanitized like cell values.
func (ds *Dataset) HeaderCells() []string {
	out := make([]string, len(ds.Headers))
	for i, h := range ds.Headers {
		out[i] = NormalizeText(h)
	}
	return out
}

// Title returns the form name, or fallback when the dataset has none.
func (ds *Dataset) Title(fallback string) string {
	if ds.Meta.FormName != "" {
		return ds.Meta.FormName
	}
	return fallback
}
