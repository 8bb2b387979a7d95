package tabexport

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/mattn/go-runewidth"
)

// Rows sampled when sizing columns.
const widthSampleRows = 50

// Column width bounds in percent of the table width.
const (
	minColumnWidth = 5.0
	maxColumnWidth = 40.0
)

// PDFLayout is the page model handed to a [PDFRenderer]. Cell text is already
// sanitized.
type PDFLayout struct {
	Title       string
	Subtitle    string
	Author      string
	Orientation string
	PaperSize   string
	FontSize    int
	Headers     []string
	Rows        [][]string
	// Widths are column widths in percent, summing to 100.
	Widths []float64
}

// PDFRenderer turns a layout into document bytes.
type PDFRenderer interface {
	RenderPDF(l *PDFLayout) ([]byte, error)
}

// PDFEncoder renders a table document through its [PDFRenderer]. The output
// is always labeled application/pdf, but with [HTMLFallbackRenderer] the bytes
// are a print-ready HTML page rather than a binary PDF.
type PDFEncoder struct {
	settings Settings
	renderer PDFRenderer
	now      func() time.Time
}

// NewPDFEncoder returns a PDF encoder. A nil renderer selects
// [HTMLFallbackRenderer].
func NewPDFEncoder(s Settings, r PDFRenderer) *PDFEncoder {
	if r == nil {
		r = HTMLFallbackRenderer{}
	}
	return &PDFEncoder{settings: s.WithDefaults(), renderer: r, now: time.Now}
}

func (e *PDFEncoder) Descriptor() Descriptor {
	return Descriptor{
		ID:          PDF,
		Name:        "PDF",
		Description: "Portable Document Format. Ideal for printing and sharing.",
		MIMEType:    "application/pdf",
		Extension:   "pdf",
		Icon:        "sui-icon-page-pdf",
	}
}

func (e *PDFEncoder) DefaultOptions() Options {
	return Options{
		"orientation":   e.settings.PDFOrientation,
		"paper_size":    e.settings.PDFPaperSize,
		"title":         "",
		"include_date":  "1",
		"include_count": "1",
		"font_size":     "10",
	}
}

func (e *PDFEncoder) Fields() []Field {
	return []Field{
		{
			ID:    "orientation",
			Type:  FieldSelect,
			Label: "Page Orientation",
			Choices: []Choice{
				{Value: "portrait", Label: "Portrait"},
				{Value: "landscape", Label: "Landscape"},
			},
			Default: "landscape",
		},
		{
			ID:    "paper_size",
			Type:  FieldSelect,
			Label: "Paper Size",
			Choices: []Choice{
				{Value: "A4", Label: "A4"},
				{Value: "A3", Label: "A3"},
				{Value: "Letter", Label: "Letter"},
				{Value: "Legal", Label: "Legal"},
			},
			Default: "A4",
		},
		{
			ID:          "title",
			Type:        FieldText,
			Label:       "Document Title",
			Description: "Leave empty to use form name.",
		},
		{
			ID:          "include_date",
			Type:        FieldCheckbox,
			Label:       "Include Export Date",
			Description: "Show export date in the document header.",
			Default:     "1",
		},
	}
}

func (e *PDFEncoder) Export(ds *Dataset, opts Options) ([]byte, error) {
	data, err := e.renderer.RenderPDF(e.layout(ds, MergeOptions(e.DefaultOptions(), opts)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return data, nil
}

func (e *PDFEncoder) Stream(w io.Writer, ds *Dataset, opts Options) error {
	return writeExport(w, e, ds, opts)
}

func (e *PDFEncoder) layout(ds *Dataset, opts Options) *PDFLayout {
	title := opts.String("title")
	if title == "" {
		title = ds.Title("Export")
	}

	var parts []string
	if opts.Bool("include_date") {
		date := e.now().Format("January 2, 2006 3:04 pm")
		if ds.Meta.ExportDate != "" {
			date = FormatExportDate(ds.Meta.ExportDate)
		}
		parts = append(parts, "Exported: "+date)
	}
	if opts.Bool("include_count") {
		parts = append(parts, pluralEntries(ds.Meta.EntriesCount))
	}

	rows := make([][]string, len(ds.Rows))
	for i := range ds.Rows {
		rows[i] = ds.Cells(i)
	}
	headers := ds.HeaderCells()

	return &PDFLayout{
		Title:       NormalizeText(title),
		Subtitle:    strings.Join(parts, " | "),
		Author:      e.settings.SiteName,
		Orientation: pick(opts.String("orientation"), "landscape", "portrait", "landscape"),
		PaperSize:   pick(opts.String("paper_size"), "A4", "A4", "A3", "Letter", "Legal"),
		FontSize:    min(max(opts.Int("font_size", 10), 6), 24),
		Headers:     headers,
		Rows:        rows,
		Widths:      columnWidths(headers, rows),
	}
}

// pick returns v when it is one of allowed, ignoring case, else def.
func pick(v, def string, allowed ...string) string {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a
		}
	}
	return def
}

// ColumnWidths estimates column widths in percent from the average display
// width of the header and the first 50 rows. Each width stays within 5 and 40
// percent and the set sums to 100. With fewer than 3 columns the upper bound
// is lifted. With more than 20 columns the lower bound becomes 100/N, which
// leaves every column exactly 100/N whatever its content. Without rows every
// column also gets 100/N.
func ColumnWidths(ds *Dataset) []float64 {
	n := min(len(ds.Rows), widthSampleRows)
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		rows[i] = ds.Cells(i)
	}
	return columnWidths(ds.HeaderCells(), rows)
}

func columnWidths(headers []string, rows [][]string) []float64 {
	n := len(headers)
	if n == 0 {
		return nil
	}
	equal := make([]float64, n)
	for i := range equal {
		equal[i] = 100 / float64(n)
	}
	if len(rows) == 0 {
		return equal
	}

	sample := rows[:min(len(rows), widthSampleRows)]
	avg := make([]float64, n)
	for i, h := range headers {
		avg[i] = float64(runewidth.StringWidth(h))
	}
	for _, row := range sample {
		for i := 0; i < n && i < len(row); i++ {
			avg[i] += float64(runewidth.StringWidth(row[i]))
		}
	}
	var total float64
	for i := range avg {
		// An empty column still weighs as one character.
		avg[i] = max(avg[i]/float64(len(sample)+1), 1)
		total += avg[i]
	}

	lo, hi := minColumnWidth, maxColumnWidth
	if n > 20 {
		lo = 100 / float64(n)
	}
	if n < 3 {
		hi = 100
	}
	pct := make([]float64, n)
	for i := range avg {
		pct[i] = avg[i] / total * 100
	}

	// The clamped sum grows monotonically with the scale factor, so bisect
	// for the factor that brings it to 100.
	clamped := func(s float64) float64 {
		var sum float64
		for _, p := range pct {
			sum += math.Min(math.Max(p*s, lo), hi)
		}
		return sum
	}
	minPct := pct[0]
	for _, p := range pct {
		minPct = math.Min(minPct, p)
	}
	a, b := 0.0, hi/minPct
	for k := 0; k < 100; k++ {
		mid := (a + b) / 2
		if clamped(mid) < 100 {
			a = mid
		} else {
			b = mid
		}
	}
	out := make([]float64, n)
	for i, p := range pct {
		out[i] = math.Min(math.Max(p*b, lo), hi)
	}
	return out
}

// RichPDFRenderer draws the table with fpdf using the core Helvetica font.
// Text outside Windows-1252 is replaced.
type RichPDFRenderer struct {
	// Creator is recorded in the document properties.
	Creator string
}

func (r RichPDFRenderer) RenderPDF(l *PDFLayout) ([]byte, error) {
	orientation := "L"
	if l.Orientation == "portrait" {
		orientation = "P"
	}
	const margin = 10.0

	pdf := fpdf.New(orientation, "mm", l.PaperSize, "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	creator := r.Creator
	if creator == "" {
		creator = "Forminator Export Formats"
	}
	pdf.SetCreator(creator, true)
	pdf.SetAuthor(l.Author, true)
	pdf.SetTitle(l.Title, true)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()

	fontSize := float64(l.FontSize)
	lineH := fontSize * 0.5

	pdf.SetFont("Helvetica", "B", fontSize+6)
	pdf.CellFormat(0, lineH*2, tr(l.Title), "", 1, "C", false, 0, "")
	if l.Subtitle != "" {
		pdf.SetFont("Helvetica", "", fontSize)
		pdf.SetTextColor(102, 102, 102)
		pdf.CellFormat(0, lineH, tr(l.Subtitle), "", 1, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(lineH / 2)

	pageW, pageH := pdf.GetPageSize()
	tableW := pageW - 2*margin
	widths := make([]float64, len(l.Widths))
	for i, pct := range l.Widths {
		widths[i] = tableW * pct / 100
	}

	var drawRow func(cells []string, header bool)
	drawRow = func(cells []string, header bool) {
		style := ""
		if header {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, fontSize)
		lines := make([][][]byte, len(widths))
		height := lineH
		for i := range widths {
			text := ""
			if i < len(cells) {
				text = tr(cells[i])
			}
			lines[i] = pdf.SplitLines([]byte(text), widths[i]-2)
			height = max(height, float64(len(lines[i]))*lineH)
		}
		if pdf.GetY()+height > pageH-margin {
			pdf.AddPage()
			if !header {
				drawRow(l.Headers, true)
				pdf.SetFont("Helvetica", style, fontSize)
			}
		}
		x, y := pdf.GetXY()
		for i, w := range widths {
			if header {
				pdf.SetFillColor(240, 240, 240)
				pdf.Rect(x, y, w, height, "FD")
			} else {
				pdf.Rect(x, y, w, height, "D")
			}
			for j, line := range lines[i] {
				pdf.SetXY(x+1, y+float64(j)*lineH)
				pdf.CellFormat(w-2, lineH, string(line), "", 0, "L", false, 0, "")
			}
			x += w
		}
		pdf.SetXY(margin, y+height)
	}

	drawRow(l.Headers, true)
	for _, row := range l.Rows {
		drawRow(row, false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HTMLFallbackRenderer produces a print-ready HTML page sized with an @page
// rule, for environments without a PDF engine.
type HTMLFallbackRenderer struct{}

func (HTMLFallbackRenderer) RenderPDF(l *PDFLayout) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n\t<meta charset=\"UTF-8\">\n")
	fmt.Fprintf(&b, "\t<title>%s</title>\n", html.EscapeString(l.Title))
	fmt.Fprintf(&b, fallbackStyles, html.EscapeString(l.PaperSize), html.EscapeString(l.Orientation), l.FontSize)
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "\t<div class=\"header\">\n\t\t<h1>%s</h1>", html.EscapeString(l.Title))
	if l.Subtitle != "" {
		fmt.Fprintf(&b, "<div class=\"meta\">%s</div>", html.EscapeString(l.Subtitle))
	}
	b.WriteString("</div>\n<table><thead><tr>")
	for i, h := range l.Headers {
		if i < len(l.Widths) {
			fmt.Fprintf(&b, `<th style="width:%.1f%%;">%s</th>`, l.Widths[i], html.EscapeString(h))
			continue
		}
		fmt.Fprintf(&b, `<th>%s</th>`, html.EscapeString(h))
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range l.Rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(cell))
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>\n</body>\n</html>\n")
	return b.Bytes(), nil
}

const fallbackStyles = `	<style>
		@page {
			size: %s %s;
			margin: 1cm;
		}
		body {
			font-family: Arial, Helvetica, sans-serif;
			font-size: %dpt;
			line-height: 1.4;
			color: #333;
		}
		.header {
			text-align: center;
			margin-bottom: 20px;
			padding-bottom: 10px;
			border-bottom: 2px solid #333;
		}
		.header h1 {
			margin: 0 0 5px 0;
			font-size: 18pt;
		}
		.header .meta {
			font-size: 10pt;
			color: #666;
		}
		table {
			width: 100%%;
			border-collapse: collapse;
			margin-top: 10px;
		}
		th, td {
			border: 1px solid #ccc;
			padding: 6px 8px;
			text-align: left;
			vertical-align: top;
		}
		th {
			background-color: #f5f5f5;
			font-weight: bold;
		}
		tr:nth-child(even) {
			background-color: #fafafa;
		}
		@media print {
			body { -webkit-print-color-adjust: exact; }
			thead { display: table-header-group; }
			tr { page-break-inside: avoid; }
		}
	</style>
`
