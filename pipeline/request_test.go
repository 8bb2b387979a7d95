package pipeline_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/tabexport/pipeline"
)

func TestParseFormType(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		input string
		want  pipeline.FormType
		ok    bool
	}{
		"custom form": {input: "custom_form", want: pipeline.CustomForm, ok: true},
		"cform":       {input: "cform", want: pipeline.CustomForm, ok: true},
		"host forms":  {input: "forminator_forms", want: pipeline.CustomForm, ok: true},
		"quiz":        {input: "forminator_quizzes", want: pipeline.Quiz, ok: true},
		"poll":        {input: " Poll ", want: pipeline.Poll, ok: true},
		"unknown":     {input: "survey", ok: false},
		"empty":       {input: "", ok: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, ok := pipeline.ParseFormType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequest(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		values  url.Values
		want    *pipeline.ExportRequest
		wantErr require.ErrorAssertionFunc
	}{
		"minimal": {
			values: url.Values{"form_id": {"7"}, "form_type": {"cform"}},
			want: &pipeline.ExportRequest{
				FormID: 7, FormType: pipeline.CustomForm, Options: map[string]string{},
			},
			wantErr: require.NoError,
		},
		"format and namespaced options": {
			values: url.Values{
				"form_id":                     {"3"},
				"form_type":                   {"quiz"},
				"export_format":               {"CSV"},
				"nonce":                       {"n1"},
				"export_option_csv_delimiter": {";"},
				"export_option_csv_bom":       {"0"},
				"export_option_json_pretty":   {"1"},
				"export_option_csv_":          {"x"},
			},
			want: &pipeline.ExportRequest{
				FormID: 3, FormType: pipeline.Quiz, Format: "csv", Nonce: "n1",
				Options: map[string]string{"delimiter": ";", "bom": "0"},
			},
			wantErr: require.NoError,
		},
		"filters ignored unless applied": {
			values: url.Values{"form_id": {"1"}, "form_type": {"poll"}, "format": {"json"}, "search": {"ann"}},
			want: &pipeline.ExportRequest{
				FormID: 1, FormType: pipeline.Poll, Format: "json", Options: map[string]string{},
			},
			wantErr: require.NoError,
		},
		"filters": {
			values: url.Values{
				"form_id": {"1"}, "form_type": {"poll"}, "submission-filter": {"true"},
				"date_from": {"2024-01-02"}, "date_to": {"2024-02-03 10:00:00"}, "search": {" ann "},
			},
			want: &pipeline.ExportRequest{
				FormID: 1, FormType: pipeline.Poll, ApplyFilters: true, Options: map[string]string{},
				Filters: pipeline.Filters{
					From:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
					To:     time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC),
					Search: "ann",
				},
			},
			wantErr: require.NoError,
		},
		"missing form id":  {values: url.Values{"form_type": {"cform"}}, wantErr: require.Error},
		"zero form id":     {values: url.Values{"form_id": {"0"}, "form_type": {"cform"}}, wantErr: require.Error},
		"negative form id": {values: url.Values{"form_id": {"-4"}, "form_type": {"cform"}}, wantErr: require.Error},
		"text form id":     {values: url.Values{"form_id": {"abc"}, "form_type": {"cform"}}, wantErr: require.Error},
		"missing type":     {values: url.Values{"form_id": {"1"}}, wantErr: require.Error},
		"unknown type":     {values: url.Values{"form_id": {"1"}, "form_type": {"survey"}}, wantErr: require.Error},
		"bad date": {
			values:  url.Values{"form_id": {"1"}, "form_type": {"cform"}, "apply_filters": {"1"}, "date_from": {"soon"}},
			wantErr: require.Error,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := pipeline.ParseRequest(tt.values)
			err := got.Validate()
			tt.wantErr(t, err)
			if err != nil {
				assert.ErrorIs(t, err, pipeline.ErrInvalidRequest)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, (&pipeline.ExportRequest{FormID: 1, FormType: pipeline.Quiz}).Validate())
	assert.ErrorIs(t, (&pipeline.ExportRequest{FormID: 1, FormType: "x"}).Validate(), pipeline.ErrInvalidRequest)
	assert.ErrorIs(t, (&pipeline.ExportRequest{FormType: pipeline.Quiz}).Validate(), pipeline.ErrInvalidRequest)
}

func TestParseRequestKeepsMalformedFields(t *testing.T) {
	t.Parallel()
	req := pipeline.ParseRequest(url.Values{
		"form_id": {"abc"}, "form_type": {"survey"}, "nonce": {"n1"}, "format": {"csv"},
	})
	assert.Equal(t, "n1", req.Nonce)
	assert.Equal(t, "csv", req.Format)
	assert.Equal(t, pipeline.FormType("survey"), req.FormType)

	err := req.Validate()
	require.ErrorIs(t, err, pipeline.ErrInvalidRequest)
	assert.Contains(t, err.Error(), `form_id "abc"`)
}

func TestFiltersMatch(t *testing.T) {
	t.Parallel()
	day := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	f := pipeline.Filters{From: day(2, 0), To: day(4, 0), Search: "Ann"}
	tests := map[string]struct {
		at   time.Time
		text string
		want bool
	}{
		"inside":          {at: day(3, 12), text: "ann smith", want: true},
		"before":          {at: day(1, 23), text: "ann", want: false},
		"end of last day": {at: day(4, 23), text: "ANN", want: true},
		"after":           {at: day(5, 0), text: "ann", want: false},
		"no match":        {at: day(3, 0), text: "bob", want: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, f.Match(tt.at, tt.text))
		})
	}
	assert.True(t, pipeline.Filters{}.Empty())
	assert.True(t, pipeline.Filters{}.Match(day(1, 0), ""))
}
