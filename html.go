package tabexport

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"
)

// HTML themes.
const (
	ThemeLight    = "light"
	ThemeDark     = "dark"
	ThemeMinimal  = "minimal"
	ThemeBordered = "bordered"
)

// HTMLEncoder writes an inline-styled HTML table, either as a standalone
// document or as a fragment.
type HTMLEncoder struct {
	settings Settings
}

// NewHTMLEncoder returns an HTML encoder whose defaults come from s.
func NewHTMLEncoder(s Settings) *HTMLEncoder {
	return &HTMLEncoder{settings: s.WithDefaults()}
}

func (e *HTMLEncoder) Descriptor() Descriptor {
	return Descriptor{
		ID:          HTML,
		Name:        "HTML",
		Description: "HTML table format. View in any web browser or embed in web pages.",
		MIMEType:    "text/html; charset=UTF-8",
		Extension:   "html",
		Icon:        "sui-icon-code",
	}
}

func (e *HTMLEncoder) DefaultOptions() Options {
	return Options{
		"theme":          e.settings.HTMLTheme,
		"include_styles": "1",
		"standalone":     "1",
		"responsive":     "1",
		"table_id":       "forminator-export-table",
	}
}

func (e *HTMLEncoder) Fields() []Field {
	return []Field{
		{
			ID:    "theme",
			Type:  FieldSelect,
			Label: "Theme",
			Choices: []Choice{
				{Value: ThemeLight, Label: "Light"},
				{Value: ThemeDark, Label: "Dark"},
				{Value: ThemeMinimal, Label: "Minimal"},
				{Value: ThemeBordered, Label: "Bordered"},
			},
			Default: ThemeLight,
		},
		{
			ID:          "standalone",
			Type:        FieldCheckbox,
			Label:       "Standalone Document",
			Description: "Include full HTML document structure (for viewing in browser).",
			Default:     "1",
		},
		{
			ID:          "include_styles",
			Type:        FieldCheckbox,
			Label:       "Include CSS Styles",
			Description: "Include inline CSS for styling.",
			Default:     "1",
		},
		{
			ID:          "responsive",
			Type:        FieldCheckbox,
			Label:       "Responsive Table",
			Description: "Make table horizontally scrollable on small screens.",
			Default:     "1",
		},
	}
}

func (e *HTMLEncoder) Export(ds *Dataset, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.write(&buf, ds, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HTMLEncoder) Stream(w io.Writer, ds *Dataset, opts Options) error {
	return writeExport(w, e, ds, opts)
}

func (e *HTMLEncoder) write(w io.Writer, ds *Dataset, opts Options) error {
	opts = MergeOptions(e.DefaultOptions(), opts)
	theme := opts.String("theme")
	if _, ok := themeStyles[theme]; !ok {
		theme = ThemeLight
	}
	title := NormalizeText(ds.Title("Export"))

	var b bytes.Buffer
	if opts.Bool("standalone") {
		fmt.Fprintf(&b, "<!DOCTYPE html>\n<html lang=\"%s\">\n<head>\n", html.EscapeString(e.settings.Locale))
		b.WriteString("\t<meta charset=\"UTF-8\">\n")
		b.WriteString("\t<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
		b.WriteString("\t<meta name=\"generator\" content=\"tabexport\">\n")
		fmt.Fprintf(&b, "\t<title>%s</title>\n</head>\n<body class=\"theme-%s\">\n", html.EscapeString(title), theme)
	}
	if opts.Bool("include_styles") {
		b.WriteString("<style>\n" + baseStyles + themeStyles[theme] + printStyles + "</style>\n")
	}
	b.WriteString(`<div class="forminator-export-wrapper">`)
	fmt.Fprintf(&b, `<header class="export-header"><h1>%s</h1>`, html.EscapeString(title))
	if line := e.metaLine(ds.Meta); line != "" {
		fmt.Fprintf(&b, `<p class="meta">%s</p>`, html.EscapeString(line))
	}
	b.WriteString(`</header>`)
	if opts.Bool("responsive") {
		b.WriteString(`<div class="table-responsive">`)
	}
	fmt.Fprintf(&b, `<table class="export-table" id="%s">`, html.EscapeString(htmlClass(opts.String("table_id"))))
	b.WriteString(`<thead><tr>`)
	for _, h := range ds.HeaderCells() {
		fmt.Fprintf(&b, `<th>%s</th>`, html.EscapeString(h))
	}
	b.WriteString(`</tr></thead><tbody>`)
	if _, err := w.Write(b.Bytes()); err != nil {
		return err
	}

	for i := range ds.Rows {
		b.Reset()
		b.WriteString(`<tr>`)
		for _, cell := range ds.Cells(i) {
			fmt.Fprintf(&b, `<td>%s</td>`, Linkify(cell))
		}
		b.WriteString(`</tr>`)
		if _, err := w.Write(b.Bytes()); err != nil {
			return err
		}
	}

	b.Reset()
	b.WriteString(`</tbody></table>`)
	if opts.Bool("responsive") {
		b.WriteString(`</div>`)
	}
	fmt.Fprintf(&b, `<footer class="export-footer">Generated by %s using Forminator Export Formats</footer>`, html.EscapeString(e.settings.SiteName))
	b.WriteString(`</div>`)
	if opts.Bool("standalone") {
		b.WriteString("\n</body>\n</html>\n")
	}
	_, err := w.Write(b.Bytes())
	return err
}

func (e *HTMLEncoder) metaLine(m Meta) string {
	var parts []string
	if m.ExportDate != "" {
		parts = append(parts, "Exported: "+FormatExportDate(m.ExportDate))
	}
	parts = append(parts, pluralEntries(m.EntriesCount))
	return strings.Join(parts, " • ")
}

func pluralEntries(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return fmt.Sprintf("%d entries", n)
}

var exportDateLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// FormatExportDate renders an export timestamp for display, returning the
// input unchanged when it is not in a recognized layout.
func FormatExportDate(s string) string {
	for _, layout := range exportDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("January 2, 2006 3:04 pm")
		}
	}
	return s
}

var invalidClassChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func htmlClass(s string) string {
	return invalidClassChars.ReplaceAllString(s, "")
}

var linkPattern = regexp.MustCompile(`(?i)(https?://[^\s<>"']+)|([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

// Linkify HTML-escapes text and turns URLs and email addresses in it into
// anchors. Matching happens on the raw text so escaped entities never end up
// inside a link.
func Linkify(text string) string {
	var b strings.Builder
	last := 0
	for _, m := range linkPattern.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:m[0]]))
		match := text[m[0]:m[1]]
		if m[2] >= 0 {
			fmt.Fprintf(&b, `<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
				html.EscapeString(match), html.EscapeString(match))
		} else {
			fmt.Fprintf(&b, `<a href="mailto:%s">%s</a>`, html.EscapeString(match), html.EscapeString(match))
		}
		last = m[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

const baseStyles = `* {
	box-sizing: border-box;
	margin: 0;
	padding: 0;
}
body {
	font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
	font-size: 14px;
	line-height: 1.5;
}
.forminator-export-wrapper {
	max-width: 1400px;
	margin: 0 auto;
	padding: 20px;
}
.export-header {
	text-align: center;
	margin-bottom: 24px;
	padding-bottom: 16px;
}
.export-header h1 {
	font-size: 24px;
	font-weight: 600;
	margin-bottom: 8px;
}
.export-header .meta {
	font-size: 13px;
	opacity: 0.7;
}
.table-responsive {
	overflow-x: auto;
	-webkit-overflow-scrolling: touch;
}
.export-table {
	width: 100%;
	border-collapse: collapse;
	font-size: 13px;
}
.export-table th,
.export-table td {
	padding: 10px 12px;
	text-align: left;
	vertical-align: top;
}
.export-table th {
	font-weight: 600;
	white-space: nowrap;
}
.export-footer {
	text-align: center;
	margin-top: 24px;
	padding-top: 16px;
	font-size: 12px;
	opacity: 0.6;
}
`

var themeStyles = map[string]string{
	ThemeLight: `body.theme-light {
	background-color: #fff;
	color: #333;
}
.theme-light .export-header { border-bottom: 2px solid #e2e8f0; }
.theme-light .export-table th {
	background-color: #f8fafc;
	border-bottom: 2px solid #e2e8f0;
}
.theme-light .export-table td { border-bottom: 1px solid #e2e8f0; }
.theme-light .export-table tbody tr:hover { background-color: #f1f5f9; }
.theme-light .export-footer { border-top: 1px solid #e2e8f0; }
`,
	ThemeDark: `body.theme-dark {
	background-color: #1a1a2e;
	color: #eee;
}
.theme-dark .export-header { border-bottom: 1px solid #333; }
.theme-dark .export-table th {
	background-color: #16213e;
	color: #fff;
	border-bottom: 2px solid #0f3460;
}
.theme-dark .export-table td { border-bottom: 1px solid #333; }
.theme-dark .export-table tbody tr:hover { background-color: #16213e; }
.theme-dark .export-footer { border-top: 1px solid #333; }
`,
	ThemeMinimal: `body.theme-minimal {
	background-color: #fff;
	color: #333;
}
.theme-minimal .export-header { border-bottom: none; }
.theme-minimal .export-table th {
	font-weight: 500;
	text-transform: uppercase;
	font-size: 11px;
	letter-spacing: 0.5px;
	color: #666;
	border-bottom: 1px solid #ddd;
}
.theme-minimal .export-table td { border-bottom: 1px solid #f0f0f0; }
.theme-minimal .export-table tbody tr:hover td { background-color: #fafafa; }
`,
	ThemeBordered: `body.theme-bordered {
	background-color: #fff;
	color: #333;
}
.theme-bordered .export-header { border-bottom: 2px solid #333; }
.theme-bordered .export-table,
.theme-bordered .export-table th,
.theme-bordered .export-table td { border: 1px solid #ccc; }
.theme-bordered .export-table th { background-color: #f5f5f5; }
.theme-bordered .export-table tbody tr:nth-child(even) { background-color: #fafafa; }
.theme-bordered .export-footer { border-top: 2px solid #333; }
`,
}

const printStyles = `@media print {
	body {
		-webkit-print-color-adjust: exact;
		print-color-adjust: exact;
	}
	.forminator-export-wrapper {
		max-width: none;
		padding: 0;
	}
	.export-table { page-break-inside: auto; }
	.export-table tr {
		page-break-inside: avoid;
		page-break-after: auto;
	}
	.export-table thead { display: table-header-group; }
}
`
