package tabexport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"
)

const utf8BOM = "\xEF\xBB\xBF"

// CSVEncoder writes delimited text with spreadsheet formula-injection
// protection.
type CSVEncoder struct {
	settings Settings
}

// NewCSVEncoder returns a CSV encoder whose defaults come from s.
func NewCSVEncoder(s Settings) *CSVEncoder {
	return &CSVEncoder{settings: s.WithDefaults()}
}

func (e *CSVEncoder) Descriptor() Descriptor {
	return Descriptor{
		ID:          CSV,
		Name:        "CSV",
		Description: "Comma-separated values file. Compatible with Excel, Google Sheets, and other spreadsheet applications.",
		MIMEType:    "text/csv; charset=UTF-8",
		Extension:   "csv",
		Icon:        "sui-icon-page",
		Streaming:   true,
	}
}

func (e *CSVEncoder) DefaultOptions() Options {
	return Options{
		"delimiter":   e.settings.CSVDelimiter,
		"enclosure":   e.settings.CSVEnclosure,
		"escape_char": `\`,
		"bom":         FormatBool(boolValue(e.settings.CSVBOM, true)),
		"line_ending": "\r\n",
	}
}

func (e *CSVEncoder) Fields() []Field {
	return []Field{
		{
			ID:    "delimiter",
			Type:  FieldSelect,
			Label: "Delimiter",
			Choices: []Choice{
				{Value: ",", Label: "Comma (,)"},
				{Value: ";", Label: "Semicolon (;)"},
				{Value: "\t", Label: "Tab"},
				{Value: "|", Label: "Pipe (|)"},
			},
			Default: ",",
		},
		{
			ID:    "enclosure",
			Type:  FieldSelect,
			Label: "Text Enclosure",
			Choices: []Choice{
				{Value: `"`, Label: `Double Quote (")`},
				{Value: "'", Label: "Single Quote (')"},
			},
			Default: `"`,
		},
		{
			ID:          "bom",
			Type:        FieldCheckbox,
			Label:       "Add BOM for Excel",
			Description: "Add UTF-8 Byte Order Mark for better Excel compatibility.",
			Default:     "1",
		},
	}
}

func (e *CSVEncoder) Export(ds *Dataset, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.write(&buf, ds, opts, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stream writes the header row and then the data rows in batches of 500,
// flushing w after each batch.
func (e *CSVEncoder) Stream(w io.Writer, ds *Dataset, opts Options) error {
	return e.write(w, ds, opts, true)
}

func (e *CSVEncoder) write(w io.Writer, ds *Dataset, opts Options, chunked bool) error {
	opts = MergeOptions(e.DefaultOptions(), opts)
	cw := newCSVWriter(w, opts)
	if opts.Bool("bom") {
		if _, err := cw.w.WriteString(utf8BOM); err != nil {
			return err
		}
	}
	if err := cw.writeRow(ds.HeaderCells()); err != nil {
		return err
	}
	for i := range ds.Rows {
		if err := cw.writeRow(ds.Cells(i)); err != nil {
			return err
		}
		if chunked && (i+1)%csvBatchSize == 0 {
			if err := cw.w.Flush(); err != nil {
				return err
			}
			if err := endChunk(w); err != nil {
				return err
			}
		}
	}
	return cw.w.Flush()
}

// csvWriter follows the quoting rules of PHP's fputcsv: a field is enclosed
// when it contains the delimiter, the enclosure, the escape character or
// whitespace, and enclosure characters inside it are doubled unless preceded
// by the escape character.
type csvWriter struct {
	w         *bufio.Writer
	delimiter rune
	enclosure rune
	escape    rune
	eol       string
}

func newCSVWriter(w io.Writer, opts Options) *csvWriter {
	return &csvWriter{
		w:         bufio.NewWriter(w),
		delimiter: optionRune(opts.String("delimiter"), ','),
		enclosure: optionRune(opts.String("enclosure"), '"'),
		escape:    optionRune(opts.String("escape_char"), '\\'),
		eol:       lineEnding(opts.String("line_ending")),
	}
}

func (c *csvWriter) writeRow(cells []string) error {
	for i, cell := range cells {
		if i > 0 {
			if _, err := c.w.WriteRune(c.delimiter); err != nil {
				return err
			}
		}
		if err := c.writeField(neutralizeFormula(cell)); err != nil {
			return err
		}
	}
	_, err := c.w.WriteString(c.eol)
	return err
}

func (c *csvWriter) writeField(s string) error {
	if !c.needsEnclosure(s) {
		_, err := c.w.WriteString(s)
		return err
	}
	var b strings.Builder
	b.WriteRune(c.enclosure)
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == c.escape:
			escaped = true
		case r == c.enclosure:
			b.WriteRune(c.enclosure)
		}
		b.WriteRune(r)
	}
	b.WriteRune(c.enclosure)
	_, err := c.w.WriteString(b.String())
	return err
}

func (c *csvWriter) needsEnclosure(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		switch r {
		case c.delimiter, c.enclosure, c.escape, '\n', '\r', '\t', ' ':
			return true
		}
		return false
	})
}

// neutralizeFormula prefixes a single quote to values a spreadsheet would
// otherwise evaluate as a formula.
func neutralizeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func optionRune(s string, def rune) rune {
	switch strings.ToLower(s) {
	case "":
		return def
	case `\t`, "tab":
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return def
	}
	return r
}

func lineEnding(s string) string {
	switch strings.ToLower(s) {
	case "", "crlf", `\r\n`:
		return "\r\n"
	case "lf", `\n`:
		return "\n"
	case "cr", `\r`:
		return "\r"
	}
	return s
}
