package tabexport

import "slices"

// Settings is the persisted export configuration. Encoders read their option
// defaults from it; nothing in this package mutates it.
type Settings struct {
	DefaultFormat  string   `yaml:"default_format" json:"default_format"`
	EnabledFormats []string `yaml:"enabled_formats" json:"enabled_formats"`
	FilenamePrefix string   `yaml:"filename_prefix" json:"filename_prefix"`
	SiteName       string   `yaml:"site_name" json:"site_name"`
	Locale         string   `yaml:"locale" json:"locale"`
	CSVDelimiter   string   `yaml:"csv_delimiter" json:"csv_delimiter"`
	CSVEnclosure   string   `yaml:"csv_enclosure" json:"csv_enclosure"`
	CSVBOM         *bool    `yaml:"csv_bom" json:"csv_bom"`
	ExcelAutoWidth *bool    `yaml:"excel_autowidth" json:"excel_autowidth"`
	JSONPretty     *bool    `yaml:"json_pretty" json:"json_pretty"`
	XMLRoot        string   `yaml:"xml_root" json:"xml_root"`
	XMLRow         string   `yaml:"xml_row" json:"xml_row"`
	PDFOrientation string   `yaml:"pdf_orientation" json:"pdf_orientation"`
	PDFPaperSize   string   `yaml:"pdf_paper_size" json:"pdf_paper_size"`
	HTMLTheme      string   `yaml:"html_theme" json:"html_theme"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{}.WithDefaults()
}

// WithDefaults returns s with every unset field filled in.
func (s Settings) WithDefaults() Settings {
	setString(&s.DefaultFormat, CSV)
	if len(s.EnabledFormats) == 0 {
		s.EnabledFormats = Formats()
	}
	setString(&s.FilenamePrefix, "forminator")
	setString(&s.SiteName, "Forminator")
	setString(&s.Locale, "en")
	setString(&s.CSVDelimiter, ",")
	setString(&s.CSVEnclosure, `"`)
	setBool(&s.CSVBOM, true)
	setBool(&s.ExcelAutoWidth, true)
	setBool(&s.JSONPretty, true)
	setString(&s.XMLRoot, "entries")
	setString(&s.XMLRow, "entry")
	setString(&s.PDFOrientation, "landscape")
	setString(&s.PDFPaperSize, "A4")
	setString(&s.HTMLTheme, "light")
	return s
}

// Enabled reports whether format id is enabled.
func (s Settings) Enabled(id string) bool {
	if len(s.EnabledFormats) == 0 {
		return true
	}
	return slices.Contains(s.EnabledFormats, id)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setBool(dst **bool, def bool) {
	if *dst == nil {
		*dst = &def
	}
}

func boolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
