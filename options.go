package tabexport

import (
	"fmt"
	"html"
	"io"
	"maps"
	"strconv"
	"strings"
)

// FieldType is the input kind of an option field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
)

// Choice is one value of a select field.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field declares one user-facing encoder option.
type Field struct {
	ID          string    `json:"id"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Choices     []Choice  `json:"choices,omitempty"`
	Default     string    `json:"default"`
	Description string    `json:"description,omitempty"`
}

// Options holds resolved encoder option values keyed by field id. Booleans are
// stored as "1"/"0".
type Options map[string]string

// FormatBool renders a boolean option value.
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// String returns the value for key.
func (o Options) String(key string) string { return o[key] }

// Bool reports whether the value for key is truthy.
func (o Options) Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(o[key])) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Int returns the value for key as an integer, or def when it does not parse.
func (o Options) Int(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(o[key]))
	if err != nil {
		return def
	}
	return n
}

// ResolveOptions merges submitted values over the encoder defaults. Keys that
// have no default are ignored.
func ResolveOptions(enc Encoder, submitted map[string]string) Options {
	return MergeOptions(enc.DefaultOptions(), submitted)
}

// MergeOptions returns a copy of defaults with submitted values applied to the
// keys defaults declares.
func MergeOptions(defaults Options, submitted map[string]string) Options {
	out := maps.Clone(defaults)
	if out == nil {
		out = Options{}
	}
	for k, v := range submitted {
		if _, ok := defaults[k]; ok {
			out[k] = v
		}
	}
	return out
}

// FieldName returns the request parameter name of option id for a format.
func FieldName(formatID, id string) string {
	return "export_option_" + formatID + "_" + id
}

// RenderFields writes the option form markup for a format's fields, with each
// input pre-filled from values.
func RenderFields(w io.Writer, formatID string, fields []Field, values Options) error {
	if len(fields) == 0 {
		_, err := io.WriteString(w, `<p class="sui-description">No additional options available for this format.</p>`)
		return err
	}
	for _, f := range fields {
		name := html.EscapeString(FieldName(formatID, f.ID))
		value, ok := values[f.ID]
		if !ok {
			value = f.Default
		}
		if _, err := io.WriteString(w, `<div class="sui-form-field">`); err != nil {
			return err
		}
		var err error
		switch f.Type {
		case FieldSelect:
			err = renderSelect(w, name, f, value)
		case FieldCheckbox:
			err = renderCheckbox(w, name, f, value)
		default:
			err = renderText(w, name, f, value)
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</div>"); err != nil {
			return err
		}
	}
	return nil
}

func renderSelect(w io.Writer, name string, f Field, value string) error {
	if _, err := fmt.Fprintf(w, `<label for="%s" class="sui-label">%s</label><select id="%s" name="%s" class="sui-select">`,
		name, html.EscapeString(f.Label), name, name); err != nil {
		return err
	}
	for _, c := range f.Choices {
		selected := ""
		if c.Value == value {
			selected = " selected"
		}
		if _, err := fmt.Fprintf(w, `<option value="%s"%s>%s</option>`,
			html.EscapeString(c.Value), selected, html.EscapeString(c.Label)); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "</select>"); err != nil {
		return err
	}
	return renderDescription(w, f)
}

func renderCheckbox(w io.Writer, name string, f Field, value string) error {
	checked := ""
	if (Options{"v": value}).Bool("v") {
		checked = " checked"
	}
	if _, err := fmt.Fprintf(w, `<label class="sui-toggle"><input type="checkbox" id="%s" name="%s" value="1"%s><span class="sui-toggle-slider" aria-hidden="true"></span><span class="sui-toggle-label">%s</span></label>`,
		name, name, checked, html.EscapeString(f.Label)); err != nil {
		return err
	}
	return renderDescription(w, f)
}

func renderText(w io.Writer, name string, f Field, value string) error {
	if _, err := fmt.Fprintf(w, `<label for="%s" class="sui-label">%s</label><input type="text" id="%s" name="%s" value="%s" class="sui-form-control">`,
		name, html.EscapeString(f.Label), name, name, html.EscapeString(value)); err != nil {
		return err
	}
	return renderDescription(w, f)
}

func renderDescription(w io.Writer, f Field) error {
	if f.Description == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, `<span class="sui-description">%s</span>`, html.EscapeString(f.Description))
	return err
}
