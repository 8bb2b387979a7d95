// Package filehost serves forms and entries from a YAML file so exports can
// run without an external host.
package filehost

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bjaus/tabexport/pipeline"
)

// Quiz kinds.
const (
	QuizNoWrong   = "nowrong"
	QuizKnowledge = "knowledge"
)

// File is the document layout of a data file.
type File struct {
	Forms []FormSpec `yaml:"forms"`
}

// FormSpec describes one form and its stored entries.
type FormSpec struct {
	ID   int    `yaml:"id"`
	Type string `yaml:"type"`
	Name string `yaml:"name"`
	// QuizKind is "nowrong" (personality quiz) or "knowledge".
	QuizKind string      `yaml:"quiz_kind,omitempty"`
	Fields   []FieldSpec `yaml:"fields,omitempty"`
	Entries  []EntrySpec `yaml:"entries"`
}

// FieldSpec maps one custom form field to its column. Fields with Sub expand
// into one column per sub key.
type FieldSpec struct {
	Key   string      `yaml:"key"`
	Label string      `yaml:"label"`
	Sub   []FieldSpec `yaml:"sub,omitempty"`
}

type EntrySpec struct {
	ID      int            `yaml:"id"`
	Created time.Time      `yaml:"created"`
	Fields  map[string]any `yaml:"fields"`
}

type form struct {
	spec    FormSpec
	typ     pipeline.FormType
	entries []pipeline.Entry
}

// Host implements pipeline.Host over the contents of a data file. It is not
// modified after New, so it is safe for concurrent use.
type Host struct {
	forms map[int]*form
}

// Open reads the data file at path.
func Open(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a data file.
func Parse(data []byte) (*Host, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	return New(f)
}

// New builds a host from decoded forms. Form ids must be unique and types
// must name a known form type.
func New(f File) (*Host, error) {
	h := &Host{forms: make(map[int]*form, len(f.Forms))}
	for _, spec := range f.Forms {
		if _, dup := h.forms[spec.ID]; dup {
			return nil, fmt.Errorf("form %d: duplicate id", spec.ID)
		}
		typ, ok := pipeline.ParseFormType(spec.Type)
		if !ok {
			return nil, fmt.Errorf("form %d: unknown type %q", spec.ID, spec.Type)
		}
		if typ == pipeline.Quiz && spec.QuizKind != QuizNoWrong && spec.QuizKind != QuizKnowledge {
			return nil, fmt.Errorf("form %d: unknown quiz kind %q", spec.ID, spec.QuizKind)
		}
		fm := &form{spec: spec, typ: typ}
		for _, e := range spec.Entries {
			fm.entries = append(fm.entries, pipeline.Entry{ID: e.ID, Created: e.Created.UTC(), Fields: e.Fields})
		}
		sort.SliceStable(fm.entries, func(i, j int) bool {
			return fm.entries[i].Created.After(fm.entries[j].Created)
		})
		h.forms[spec.ID] = fm
	}
	return h, nil
}

// Forms returns the forms in id order.
func (h *Host) Forms() []pipeline.Form {
	out := make([]pipeline.Form, 0, len(h.forms))
	for _, f := range h.forms {
		out = append(out, pipeline.Form{ID: f.spec.ID, Type: f.typ, Name: f.spec.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Host) Form(_ context.Context, id int) (*pipeline.Form, error) {
	f, ok := h.forms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", pipeline.ErrFormNotFound, id)
	}
	return &pipeline.Form{ID: f.spec.ID, Type: f.typ, Name: f.spec.Name}, nil
}

// Entries returns the form's entries newest first. Search matches against
// every field value.
func (h *Host) Entries(ctx context.Context, fm *pipeline.Form, filters *pipeline.Filters) ([]pipeline.Entry, error) {
	f, ok := h.forms[fm.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", pipeline.ErrFormNotFound, fm.ID)
	}
	out := make([]pipeline.Entry, 0, len(f.entries))
	for _, e := range f.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if filters != nil && !filters.Match(e.Created, searchText(e.Fields)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Mapper returns the row mapping for the form. Exporting a form as another
// type is rejected.
func (h *Host) Mapper(fm *pipeline.Form, t pipeline.FormType) (pipeline.RowMapper, error) {
	f, ok := h.forms[fm.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", pipeline.ErrFormNotFound, fm.ID)
	}
	if f.typ != t {
		return nil, fmt.Errorf("%w: form %d is a %s, not a %s", pipeline.ErrUnsupportedFormType, fm.ID, f.typ, t)
	}
	switch t {
	case pipeline.CustomForm:
		return customFormMapper{fields: f.spec.Fields}, nil
	case pipeline.Quiz:
		return quizMapper{kind: f.spec.QuizKind}, nil
	case pipeline.Poll:
		return pollMapper{}, nil
	}
	return nil, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedFormType, t)
}

func searchText(fields map[string]any) string {
	var b strings.Builder
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeText(&b, fields[k])
	}
	return b.String()
}

func writeText(b *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
	case map[string]any:
		b.WriteString(searchText(v))
	case []any:
		for _, x := range v {
			writeText(b, x)
		}
	default:
		fmt.Fprint(b, v)
		b.WriteByte(' ')
	}
}
