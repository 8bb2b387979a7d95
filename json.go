package tabexport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf16"
)

// JSON document structures.
const (
	StructureNested = "nested"
	StructureFlat   = "flat"
)

const jsonIndent = "  "

// JSONEncoder writes {"meta", "headers", "entries"} documents. Entries are
// objects keyed by slugified header names (nested) or positional arrays
// (flat).
type JSONEncoder struct {
	settings Settings
}

// NewJSONEncoder returns a JSON encoder whose defaults come from s.
func NewJSONEncoder(s Settings) *JSONEncoder {
	return &JSONEncoder{settings: s.WithDefaults()}
}

func (e *JSONEncoder) Descriptor() Descriptor {
	return Descriptor{
		ID:          JSON,
		Name:        "JSON",
		Description: "JavaScript Object Notation. Ideal for API integrations and data processing.",
		MIMEType:    "application/json; charset=UTF-8",
		Extension:   "json",
		Icon:        "sui-icon-code",
		Streaming:   true,
	}
}

func (e *JSONEncoder) DefaultOptions() Options {
	return Options{
		"pretty_print":   FormatBool(boolValue(e.settings.JSONPretty, true)),
		"include_meta":   "1",
		"structure":      StructureNested,
		"unicode_escape": "0",
	}
}

func (e *JSONEncoder) Fields() []Field {
	return []Field{
		{
			ID:          "pretty_print",
			Type:        FieldCheckbox,
			Label:       "Pretty Print",
			Description: "Format JSON with indentation for readability.",
			Default:     "1",
		},
		{
			ID:          "include_meta",
			Type:        FieldCheckbox,
			Label:       "Include Metadata",
			Description: "Include form name, export date, and entry count.",
			Default:     "1",
		},
		{
			ID:    "structure",
			Type:  FieldSelect,
			Label: "Data Structure",
			Choices: []Choice{
				{Value: StructureNested, Label: "Nested (field names as keys)"},
				{Value: StructureFlat, Label: "Flat (arrays with headers)"},
			},
			Default: StructureNested,
		},
	}
}

// jsonDocument is the buffered form of the output. Field order matches the
// streamed form.
type jsonDocument struct {
	Meta    *Meta             `json:"meta,omitempty"`
	Headers []string          `json:"headers"`
	Entries []json.RawMessage `json:"entries"`
}

// Export builds the whole document in memory.
func (e *JSONEncoder) Export(ds *Dataset, opts Options) ([]byte, error) {
	opts = MergeOptions(e.DefaultOptions(), opts)
	doc := jsonDocument{
		Headers: ds.HeaderCells(),
		Entries: make([]json.RawMessage, 0, len(ds.Rows)),
	}
	if opts.Bool("include_meta") {
		meta := ds.Meta
		doc.Meta = &meta
	}
	keys := jsonKeys(ds.Headers)
	for i := range ds.Rows {
		entry, err := e.entry(keys, ds.Cells(i), opts)
		if err != nil {
			return nil, err
		}
		doc.Entries = append(doc.Entries, entry)
	}
	data, err := marshalJSON(doc)
	if err != nil {
		return nil, err
	}
	if opts.Bool("unicode_escape") {
		data = escapeNonASCII(data)
	}
	if opts.Bool("pretty_print") {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", jsonIndent); err != nil {
			return nil, err
		}
		data = buf.Bytes()
	}
	return append(data, '\n'), nil
}

// Stream assembles the same document incrementally, one entry at a time.
func (e *JSONEncoder) Stream(w io.Writer, ds *Dataset, opts Options) error {
	opts = MergeOptions(e.DefaultOptions(), opts)
	pretty := opts.Bool("pretty_print")
	escape := opts.Bool("unicode_escape")
	nl, ind := "", ""
	if pretty {
		nl, ind = "\n", jsonIndent
	}
	sep := ":"
	if pretty {
		sep = ": "
	}

	// fragment renders v at the given nesting depth.
	fragment := func(v any, depth int) ([]byte, error) {
		data, err := marshalJSON(v)
		if err != nil {
			return nil, err
		}
		if escape {
			data = escapeNonASCII(data)
		}
		if !pretty {
			return data, nil
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, strings.Repeat(ind, depth), ind); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	var b bytes.Buffer
	b.WriteString("{" + nl)
	if opts.Bool("include_meta") {
		meta, err := fragment(ds.Meta, 1)
		if err != nil {
			return err
		}
		b.WriteString(ind + `"meta"` + sep)
		b.Write(meta)
		b.WriteString("," + nl)
	}
	headers, err := fragment(ds.HeaderCells(), 1)
	if err != nil {
		return err
	}
	b.WriteString(ind + `"headers"` + sep)
	b.Write(headers)
	b.WriteString("," + nl)
	b.WriteString(ind + `"entries"` + sep + "[")
	if _, err := w.Write(b.Bytes()); err != nil {
		return err
	}

	keys := jsonKeys(ds.Headers)
	for i := range ds.Rows {
		entry, err := e.entry(keys, ds.Cells(i), opts)
		if err != nil {
			return err
		}
		data, err := fragment(entry, 2)
		if err != nil {
			return err
		}
		b.Reset()
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(nl + ind + ind)
		b.Write(data)
		if _, err := w.Write(b.Bytes()); err != nil {
			return err
		}
		if (i+1)%recordBatchSize == 0 {
			if err := endChunk(w); err != nil {
				return err
			}
		}
	}

	closing := "]" + nl + "}\n"
	if len(ds.Rows) > 0 {
		closing = nl + ind + closing
	}
	_, err = io.WriteString(w, closing)
	return err
}

func (e *JSONEncoder) entry(keys []string, cells []string, opts Options) (json.RawMessage, error) {
	if opts.String("structure") == StructureFlat {
		return marshalJSON(cells)
	}
	obj := make(orderedObject, 0, len(keys))
	for i, k := range keys {
		obj = obj.set(k, cells[i])
	}
	return marshalJSON(obj)
}

var (
	nonKeyChars = regexp.MustCompile(`[^a-z0-9_]`)
	underscores = regexp.MustCompile(`_+`)
)

// JSONKey slugifies a header into an object key: lowercase, characters other
// than a-z, 0-9 and underscore replaced by underscores, runs collapsed and
// trimmed. An empty result becomes "field".
func JSONKey(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	key = nonKeyChars.ReplaceAllString(key, "_")
	key = underscores.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return "field"
	}
	return key
}

func jsonKeys(headers []string) []string {
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = JSONKey(NormalizeText(h))
	}
	return keys
}

// orderedObject is a JSON object that keeps insertion order. Setting an
// existing key replaces its value in place.
type orderedObject []objectField

type objectField struct {
	key   string
	value string
}

func (o orderedObject) set(key, value string) orderedObject {
	for i := range o {
		if o[i].key == key {
			o[i].value = value
			return o
		}
	}
	return append(o, objectField{key: key, value: value})
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalJSON(f.key)
		if err != nil {
			return nil, err
		}
		v, err := marshalJSON(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalJSON encodes v without HTML escaping and without a trailing newline.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// escapeNonASCII rewrites every non-ASCII rune as a \uXXXX escape. Non-ASCII
// bytes only occur inside JSON strings, so the result stays valid JSON.
func escapeNonASCII(data []byte) []byte {
	var buf bytes.Buffer
	for _, r := range string(data) {
		if r < 0x80 {
			buf.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&buf, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&buf, `\u%04x`, r)
	}
	return buf.Bytes()
}
