package tabexport

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`

// XMLEncoder writes one element per row with one child element per column.
type XMLEncoder struct {
	settings Settings
}

// NewXMLEncoder returns an XML encoder whose defaults come from s.
func NewXMLEncoder(s Settings) *XMLEncoder {
	return &XMLEncoder{settings: s.WithDefaults()}
}

func (e *XMLEncoder) Descriptor() Descriptor {
	return Descriptor{
		ID:          XML,
		Name:        "XML",
		Description: "Extensible Markup Language. Ideal for data interchange and system integration.",
		MIMEType:    "application/xml; charset=UTF-8",
		Extension:   "xml",
		Icon:        "sui-icon-code",
		Streaming:   true,
	}
}

func (e *XMLEncoder) DefaultOptions() Options {
	return Options{
		"root_element": e.settings.XMLRoot,
		"row_element":  e.settings.XMLRow,
		"include_meta": "1",
		"pretty_print": "1",
	}
}

func (e *XMLEncoder) Fields() []Field {
	return []Field{
		{
			ID:          "root_element",
			Type:        FieldText,
			Label:       "Root Element Name",
			Description: "The name of the root XML element.",
			Default:     "entries",
		},
		{
			ID:          "row_element",
			Type:        FieldText,
			Label:       "Entry Element Name",
			Description: "The name of each entry XML element.",
			Default:     "entry",
		},
		{
			ID:          "include_meta",
			Type:        FieldCheckbox,
			Label:       "Include Metadata",
			Description: "Include form information in the XML header.",
			Default:     "1",
		},
		{
			ID:          "pretty_print",
			Type:        FieldCheckbox,
			Label:       "Pretty Print",
			Description: "Format XML with indentation.",
			Default:     "1",
		},
	}
}

// xmlNode is a minimal element tree used by the buffered path.
type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

func (n *xmlNode) add(name, text string) *xmlNode {
	child := &xmlNode{name: name, text: text}
	n.children = append(n.children, child)
	return child
}

func (n *xmlNode) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: n.name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if len(n.children) == 0 {
		if n.text != "" {
			if err := enc.EncodeToken(xml.CharData(n.text)); err != nil {
				return err
			}
		}
	}
	for _, c := range n.children {
		if err := enc.EncodeElement(c, xml.StartElement{}); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Export builds the element tree and serializes it.
func (e *XMLEncoder) Export(ds *Dataset, opts Options) ([]byte, error) {
	opts = MergeOptions(e.DefaultOptions(), opts)
	root := &xmlNode{name: XMLName(opts.String("root_element"))}
	if opts.Bool("include_meta") {
		meta := root.add("meta", "")
		for _, f := range metaFields(ds.Meta) {
			meta.add(f.key, f.value)
		}
	}
	rowName := XMLName(opts.String("row_element"))
	names := xmlFieldNames(ds.Headers)
	for i := range ds.Rows {
		entry := root.add(rowName, "")
		for j, cell := range ds.Cells(i) {
			entry.add(names[j], cell)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration + "\n")
	enc := xml.NewEncoder(&buf)
	if opts.Bool("pretty_print") {
		enc.Indent("", "  ")
	}
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Stream writes the declaration, the root and meta elements, then one row
// element at a time, flushing every 100 rows.
func (e *XMLEncoder) Stream(w io.Writer, ds *Dataset, opts Options) error {
	opts = MergeOptions(e.DefaultOptions(), opts)
	nl, ind := "", ""
	if opts.Bool("pretty_print") {
		nl, ind = "\n", "  "
	}
	root := XMLName(opts.String("root_element"))
	rowName := XMLName(opts.String("row_element"))
	names := xmlFieldNames(ds.Headers)

	bw := bufio.NewWriter(w)
	bw.WriteString(xmlDeclaration + "\n")
	bw.WriteString("<" + escapeXML(root) + ">" + nl)
	if opts.Bool("include_meta") {
		bw.WriteString(ind + "<meta>" + nl)
		for _, f := range metaFields(ds.Meta) {
			writeXMLField(bw, ind+ind, f.key, f.value, nl)
		}
		bw.WriteString(ind + "</meta>" + nl)
	}
	for i := range ds.Rows {
		bw.WriteString(ind + "<" + escapeXML(rowName) + ">" + nl)
		for j, cell := range ds.Cells(i) {
			writeXMLField(bw, ind+ind, names[j], cell, nl)
		}
		bw.WriteString(ind + "</" + escapeXML(rowName) + ">" + nl)
		if (i+1)%recordBatchSize == 0 {
			if err := bw.Flush(); err != nil {
				return err
			}
			if err := endChunk(w); err != nil {
				return err
			}
		}
	}
	bw.WriteString("</" + escapeXML(root) + ">\n")
	return bw.Flush()
}

func writeXMLField(w *bufio.Writer, indent, name, value, nl string) {
	tag := escapeXML(name)
	w.WriteString(indent + "<" + tag + ">")
	xml.EscapeText(w, []byte(value))
	w.WriteString("</" + tag + ">" + nl)
}

func escapeXML(name string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(name))
	return b.String()
}

type metaField struct {
	key   string
	value string
}

func metaFields(m Meta) []metaField {
	return []metaField{
		{"form_id", strconv.Itoa(m.FormID)},
		{"form_name", NormalizeText(m.FormName)},
		{"form_type", m.FormType},
		{"export_date", m.ExportDate},
		{"entries_count", strconv.Itoa(m.EntriesCount)},
	}
}

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9_\-.]`)
	badNameStart     = regexp.MustCompile(`^[0-9\-.]`)
)

// XMLName sanitizes s into a valid XML element name: lowercased, characters
// outside a-z, 0-9, underscore, hyphen and period replaced by underscores,
// underscore runs collapsed. A name starting with a digit, hyphen, period or
// "xml" (any case) gets a leading underscore; an empty name becomes "field".
func XMLName(s string) string {
	name := strings.ToLower(strings.TrimSpace(s))
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	if badNameStart.MatchString(name) {
		name = "_" + name
	}
	if strings.HasPrefix(strings.ToLower(name), "xml") {
		name = "_" + name
	}
	if name == "" {
		return "field"
	}
	return name
}

func xmlFieldNames(headers []string) []string {
	names := make([]string, len(headers))
	for i, h := range headers {
		names[i] = XMLName(NormalizeText(h))
	}
	return names
}
