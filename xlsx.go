package tabexport

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const xmlStandalone = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const (
	defaultSheetName = "Submissions"
	maxSheetName     = 31
)

// ExcelEncoder writes an Office Open XML workbook with a single worksheet.
// Every cell is a shared string; the package parts are written to a scratch
// directory and zipped from there.
type ExcelEncoder struct {
	// ScratchDir is the parent of the per-call scratch directories. Empty
	// means os.TempDir.
	ScratchDir string

	settings Settings
	now      func() time.Time
}

// NewExcelEncoder returns an Excel encoder whose defaults come from s.
func NewExcelEncoder(s Settings) *ExcelEncoder {
	return &ExcelEncoder{settings: s.WithDefaults(), now: time.Now}
}

func (e *ExcelEncoder) Descriptor() Descriptor {
	return Descriptor{
		ID:          Excel,
		Name:        "Excel",
		Description: "Microsoft Excel spreadsheet (.xlsx). Native format for Excel 2007 and later.",
		MIMEType:    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extension:   "xlsx",
		Icon:        "sui-icon-page",
	}
}

func (e *ExcelEncoder) DefaultOptions() Options {
	return Options{
		"sheet_name":   defaultSheetName,
		"freeze_row":   "1",
		"auto_width":   FormatBool(boolValue(e.settings.ExcelAutoWidth, true)),
		"bold_headers": "1",
	}
}

func (e *ExcelEncoder) Fields() []Field {
	return []Field{
		{
			ID:      "sheet_name",
			Type:    FieldText,
			Label:   "Sheet Name",
			Default: defaultSheetName,
		},
		{
			ID:          "freeze_row",
			Type:        FieldCheckbox,
			Label:       "Freeze Header Row",
			Description: "Keep the header row visible when scrolling.",
			Default:     "1",
		},
		{
			ID:          "bold_headers",
			Type:        FieldCheckbox,
			Label:       "Bold Headers",
			Description: "Make header row text bold.",
			Default:     "1",
		},
	}
}

// Export builds the workbook. The scratch directory and the intermediate
// archive are removed before returning, on success and on failure.
func (e *ExcelEncoder) Export(ds *Dataset, opts Options) (data []byte, err error) {
	opts = MergeOptions(e.DefaultOptions(), opts)

	base := e.ScratchDir
	if base == "" {
		base = os.TempDir()
	}
	dir, err := os.MkdirTemp(base, "xlsx-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch directory: %w", ErrEncodingFailure, err)
	}
	archive := dir + ".xlsx"
	defer func() {
		os.RemoveAll(dir)
		os.Remove(archive)
	}()

	if err := e.writeParts(dir, ds, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	if err := zipDir(dir, archive); err != nil {
		return nil, fmt.Errorf("%w: archive: %w", ErrEncodingFailure, err)
	}
	data, err = os.ReadFile(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return data, nil
}

func (e *ExcelEncoder) Stream(w io.Writer, ds *Dataset, opts Options) error {
	return writeExport(w, e, ds, opts)
}

func (e *ExcelEncoder) writeParts(dir string, ds *Dataset, opts Options) error {
	now := e.now().UTC().Format("2006-01-02T15:04:05Z")
	strs := newSharedStrings()
	sheet := e.worksheet(ds, opts, strs)

	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", packageRelsXML},
		{"docProps/app.xml", appPropsXML},
		{"docProps/core.xml", fmt.Sprintf(corePropsXML, now, now)},
		{"xl/_rels/workbook.xml.rels", workbookRelsXML},
		{"xl/styles.xml", stylesXML},
		{"xl/workbook.xml", fmt.Sprintf(workbookXML, escapeXML(SheetName(opts.String("sheet_name"))))},
		{"xl/sharedStrings.xml", strs.xml()},
		{"xl/worksheets/sheet1.xml", sheet},
	}
	for _, p := range parts {
		path := filepath.Join(dir, filepath.FromSlash(p.name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(p.content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExcelEncoder) worksheet(ds *Dataset, opts Options, strs *sharedStrings) string {
	headers := ds.HeaderCells()
	lastRow := len(ds.Rows) + 1

	var b strings.Builder
	b.WriteString(xmlStandalone)
	b.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">`)
	if len(headers) > 0 {
		fmt.Fprintf(&b, `<dimension ref="A1:%s%d"/>`, ColumnLetter(len(headers)), lastRow)
	} else {
		b.WriteString(`<dimension ref="A1"/>`)
	}
	if opts.Bool("freeze_row") {
		b.WriteString(`<sheetViews><sheetView tabSelected="1" workbookViewId="0">`)
		b.WriteString(`<pane ySplit="1" topLeftCell="A2" activePane="bottomLeft" state="frozen"/>`)
		b.WriteString(`</sheetView></sheetViews>`)
	}
	if opts.Bool("auto_width") && len(headers) > 0 {
		b.WriteString(`<cols>`)
		for i, w := range e.columnChars(ds) {
			fmt.Fprintf(&b, `<col min="%d" max="%d" width="%d" customWidth="1"/>`, i+1, i+1, w)
		}
		b.WriteString(`</cols>`)
	}

	b.WriteString(`<sheetData>`)
	style := ""
	if opts.Bool("bold_headers") {
		style = ` s="1"`
	}
	writeSheetRow(&b, 1, headers, style, strs)
	for i := range ds.Rows {
		writeSheetRow(&b, i+2, ds.Cells(i), "", strs)
	}
	b.WriteString(`</sheetData></worksheet>`)
	return b.String()
}

func writeSheetRow(b *strings.Builder, r int, cells []string, style string, strs *sharedStrings) {
	fmt.Fprintf(b, `<row r="%d">`, r)
	for j, cell := range cells {
		fmt.Fprintf(b, `<c r="%s%d" t="s"%s><v>%d</v></c>`, ColumnLetter(j+1), r, style, strs.index(cell))
	}
	b.WriteString(`</row>`)
}

// columnChars returns a width in characters per column, sized to the widest
// sampled value and kept between 8 and 60.
func (e *ExcelEncoder) columnChars(ds *Dataset) []int {
	widths := make([]int, len(ds.Headers))
	for j, h := range ds.HeaderCells() {
		widths[j] = runewidth.StringWidth(h)
	}
	for i := 0; i < min(len(ds.Rows), widthSampleRows); i++ {
		for j, cell := range ds.Cells(i) {
			widths[j] = max(widths[j], runewidth.StringWidth(cell))
		}
	}
	for j := range widths {
		widths[j] = min(max(widths[j]+2, 8), 60)
	}
	return widths
}

// sharedStrings assigns each distinct string one index in first-seen order.
type sharedStrings struct {
	values []string
	lookup map[string]int
}

func newSharedStrings() *sharedStrings {
	return &sharedStrings{lookup: make(map[string]int)}
}

func (s *sharedStrings) index(v string) int {
	if i, ok := s.lookup[v]; ok {
		return i
	}
	i := len(s.values)
	s.values = append(s.values, v)
	s.lookup[v] = i
	return i
}

func (s *sharedStrings) xml() string {
	var b strings.Builder
	b.WriteString(xmlStandalone)
	n := strconv.Itoa(len(s.values))
	b.WriteString(`<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="` + n + `" uniqueCount="` + n + `">`)
	for _, v := range s.values {
		b.WriteString(`<si><t xml:space="preserve">`)
		b.WriteString(escapeXML(v))
		b.WriteString(`</t></si>`)
	}
	b.WriteString(`</sst>`)
	return b.String()
}

// ColumnLetter returns the spreadsheet column name of the 1-based column n:
// 1 is A, 26 is Z, 27 is AA.
func ColumnLetter(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// SheetName makes s a valid worksheet name: the characters []:*?/\ are
// removed, surrounding apostrophes and spaces trimmed, and the result cut to
// 31 characters. An empty result becomes "Submissions".
func SheetName(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return -1
		}
		return r
	}, s)
	s = strings.Trim(s, "' ")
	if r := []rune(s); len(r) > maxSheetName {
		s = strings.TrimRight(string(r[:maxSheetName]), "' ")
	}
	if s == "" {
		return defaultSheetName
	}
	return s
}

// zipDir packs every file under dir into a zip archive at dst, storing paths
// relative to dir with forward slashes.
func zipDir(dir, dst string) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = w.Write(content)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return walkErr
	}
	return zw.Close()
}

const contentTypesXML = xmlStandalone + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
	<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
	<Default Extension="xml" ContentType="application/xml"/>
	<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>
	<Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>
	<Override PartName="/xl/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.styles+xml"/>
	<Override PartName="/xl/sharedStrings.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sharedStrings+xml"/>
	<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>
	<Override PartName="/docProps/app.xml" ContentType="application/vnd.openxmlformats-officedocument.extended-properties+xml"/>
</Types>`

const packageRelsXML = xmlStandalone + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
	<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
	<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>
	<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/extended-properties" Target="docProps/app.xml"/>
</Relationships>`

const appPropsXML = xmlStandalone + `<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties">
	<Application>Forminator Export Formats</Application>
	<AppVersion>1.0</AppVersion>
</Properties>`

const corePropsXML = xmlStandalone + `<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
	<dc:creator>Forminator</dc:creator>
	<dcterms:created xsi:type="dcterms:W3CDTF">%s</dcterms:created>
	<dcterms:modified xsi:type="dcterms:W3CDTF">%s</dcterms:modified>
</cp:coreProperties>`

const workbookRelsXML = xmlStandalone + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
	<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
	<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
	<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/sharedStrings" Target="sharedStrings.xml"/>
</Relationships>`

const stylesXML = xmlStandalone + `<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
	<fonts count="2">
		<font><sz val="11"/><name val="Calibri"/></font>
		<font><b/><sz val="11"/><name val="Calibri"/></font>
	</fonts>
	<fills count="2">
		<fill><patternFill patternType="none"/></fill>
		<fill><patternFill patternType="gray125"/></fill>
	</fills>
	<borders count="1">
		<border><left/><right/><top/><bottom/><diagonal/></border>
	</borders>
	<cellStyleXfs count="1">
		<xf numFmtId="0" fontId="0" fillId="0" borderId="0"/>
	</cellStyleXfs>
	<cellXfs count="2">
		<xf numFmtId="0" fontId="0" fillId="0" borderId="0" xfId="0"/>
		<xf numFmtId="0" fontId="1" fillId="0" borderId="0" xfId="0" applyFont="1"/>
	</cellXfs>
</styleSheet>`

const workbookXML = xmlStandalone + `<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
	<sheets>
		<sheet name="%s" sheetId="1" r:id="rId1"/>
	</sheets>
</workbook>`
