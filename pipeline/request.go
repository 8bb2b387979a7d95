package pipeline

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FormType identifies the kind of form whose submissions are exported.
type FormType string

const (
	CustomForm FormType = "custom_form"
	Quiz       FormType = "quiz"
	Poll       FormType = "poll"
)

var formTypeAliases = map[string]FormType{
	"custom_form":        CustomForm,
	"cform":              CustomForm,
	"forminator_forms":   CustomForm,
	"quiz":               Quiz,
	"forminator_quizzes": Quiz,
	"poll":               Poll,
	"forminator_polls":   Poll,
}

// ParseFormType resolves a form type name or one of its host aliases.
func ParseFormType(s string) (FormType, bool) {
	t, ok := formTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// Filters narrows the entries of a form.
type Filters struct {
	From   time.Time
	To     time.Time
	Search string
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.From.IsZero() && f.To.IsZero() && f.Search == ""
}

// Match reports whether an entry created at t with the given searchable text
// passes the filters. To is inclusive to the end of its day when it has no
// time component.
func (f Filters) Match(t time.Time, text string) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() {
		end := f.To
		if end.Equal(end.Truncate(24 * time.Hour)) {
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
		if t.After(end) {
			return false
		}
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(text), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// ExportRequest is one export as submitted by a client.
type ExportRequest struct {
	FormID       int
	FormType     FormType
	Format       string
	ApplyFilters bool
	Filters      Filters
	// Options holds the submitted option values for Format, keyed by field id.
	Options map[string]string
	// Nonce is the request integrity token.
	Nonce string

	// err is the first field that failed to parse.
	err error
}

// Validate checks the request shape, including fields ParseRequest could not
// read.
func (r *ExportRequest) Validate() error {
	if r.err != nil {
		return r.err
	}
	if r.FormID <= 0 {
		return fmt.Errorf("%w: form_id must be a positive integer", ErrInvalidRequest)
	}
	if _, ok := ParseFormType(string(r.FormType)); !ok {
		return fmt.Errorf("%w: unknown form_type %q", ErrInvalidRequest, r.FormType)
	}
	return nil
}

const optionPrefix = "export_option_"

// ParseRequest builds an ExportRequest from form values. Only option fields
// namespaced with the requested format are kept. Malformed fields are not
// rejected here; Validate reports them, so a pipeline can authorize the
// caller before looking at the request shape.
func ParseRequest(v url.Values) *ExportRequest {
	req := &ExportRequest{
		Format:  strings.ToLower(strings.TrimSpace(first(v, "format", "export_format"))),
		Nonce:   first(v, "nonce", "_nonce"),
		Options: map[string]string{},
	}

	rawID := strings.TrimSpace(v.Get("form_id"))
	if rawID == "" {
		req.fail(fmt.Errorf("%w: missing form_id", ErrInvalidRequest))
	} else if id, err := strconv.Atoi(rawID); err != nil {
		req.fail(fmt.Errorf("%w: form_id %q", ErrInvalidRequest, rawID))
	} else {
		req.FormID = id
	}

	rawType := v.Get("form_type")
	if t, ok := ParseFormType(rawType); ok {
		req.FormType = t
	} else {
		req.FormType = FormType(rawType)
	}

	req.ApplyFilters = truthy(first(v, "apply_filters", "submission-filter"))
	if req.ApplyFilters {
		f, err := parseFilters(v)
		if err != nil {
			req.fail(err)
		}
		req.Filters = f
	}

	if req.Format != "" {
		prefix := optionPrefix + req.Format + "_"
		for key, vals := range v {
			if id, ok := strings.CutPrefix(key, prefix); ok && id != "" && len(vals) > 0 {
				req.Options[id] = strings.TrimSpace(vals[len(vals)-1])
			}
		}
	}
	return req
}

func (r *ExportRequest) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func parseFilters(v url.Values) (Filters, error) {
	var f Filters
	var err error
	if f.From, err = parseDate(v.Get("date_from")); err != nil {
		return f, fmt.Errorf("%w: date_from: %w", ErrInvalidRequest, err)
	}
	if f.To, err = parseDate(v.Get("date_to")); err != nil {
		return f, fmt.Errorf("%w: date_to: %w", ErrInvalidRequest, err)
	}
	f.Search = strings.TrimSpace(v.Get("search"))
	return f, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.DateOnly, time.DateTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func first(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k); s != "" {
			return s
		}
	}
	return ""
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
