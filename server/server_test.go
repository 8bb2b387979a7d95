package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/bjaus/tabexport"
	"github.com/bjaus/tabexport/history"
	"github.com/bjaus/tabexport/internal/filehost"
	"github.com/bjaus/tabexport/pipeline"
	"github.com/bjaus/tabexport/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	apiKey = "key-123"
	forms  = `
forms:
  - id: 1
    type: cform
    name: Contact Us
    fields:
      - {key: name, label: Name}
      - {key: email, label: Email}
    entries:
      - id: 10
        created: 2024-05-01T09:00:00Z
        fields: {name: Ann, email: a@x.com}
  - id: 2
    type: poll
    name: Lunch
    entries: []
`
)

type env struct {
	handler http.Handler
	signer  *pipeline.Signer
	history *history.Store
}

func newEnv(t *testing.T, key string) *env {
	t.Helper()
	host, err := filehost.Parse([]byte(forms))
	require.NoError(t, err)
	signer, err := pipeline.NewSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	store, err := pipeline.NewTempStore(filepath.Join(t.TempDir(), "tmp"), nil)
	require.NoError(t, err)
	hist, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	logger, _ := logtest.NewNullLogger()
	log := logrus.NewEntry(logger)
	p, err := pipeline.New(pipeline.Config{
		Registry:   tabexport.NewDefaultRegistry(tabexport.DefaultSettings(), nil),
		Host:       host,
		Authorizer: pipeline.NonceAuthorizer{Signer: signer},
		Store:      store,
		Signer:     signer,
		History:    hist,
		Logger:     log,
	})
	require.NoError(t, err)
	s, err := server.New(server.Config{
		Pipeline: p,
		Signer:   signer,
		NonceTTL: time.Hour,
		APIKey:   key,
		History:  hist,
		Logger:   log,
	})
	require.NoError(t, err)
	return &env{handler: s.Handler(), signer: signer, history: hist}
}

func (e *env) nonce(t *testing.T) string {
	t.Helper()
	n, err := e.signer.IssueNonce(time.Hour)
	require.NoError(t, err)
	return n
}

func (e *env) do(method, target string, form url.Values, key string) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, err := server.New(server.Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	rec := newEnv(t, apiKey).do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", gjson.Get(rec.Body.String(), "status").String())
}

func TestFormats(t *testing.T) {
	t.Parallel()
	rec := newEnv(t, apiKey).do(http.MethodGet, "/formats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, gjson.Get(body, "success").Bool())
	assert.Equal(t, int64(6), gjson.Get(body, "data.formats.#").Int())
	assert.Equal(t, "csv", gjson.Get(body, "data.formats.0.id").String())
	assert.True(t, gjson.Get(body, "data.formats.0.streaming").Bool())
	assert.Equal(t, "excel", gjson.Get(body, "data.choices.1.value").String())
}

func TestExport(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	rec := e.do(http.MethodPost, "/export", url.Values{
		"form_id":                     {"1"},
		"form_type":                   {"cform"},
		"format":                      {"csv"},
		"nonce":                       {e.nonce(t)},
		"export_option_csv_bom":       {"0"},
		"export_option_csv_delimiter": {";"},
	}, apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "forminator-contact-us-")
	assert.Equal(t, "Name;Email\r\nAnn;a@x.com\r\n", rec.Body.String())

	records, err := e.history.Recent(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, pipeline.ModeStreamed, records[0].Mode)
	assert.Equal(t, 1, records[0].Rows)
}

func TestExportBuffered(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	rec := e.do(http.MethodPost, "/export", url.Values{
		"form_id": {"1"}, "form_type": {"cform"}, "format": {"html"}, "nonce": {e.nonce(t)},
	}, apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<td>Ann</td>")
}

func TestExportErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	valid := func() url.Values {
		return url.Values{"form_id": {"1"}, "form_type": {"cform"}, "format": {"csv"}, "nonce": {e.nonce(t)}}
	}
	with := func(k, v string) url.Values {
		f := valid()
		f.Set(k, v)
		return f
	}
	tests := map[string]struct {
		form   url.Values
		key    string
		status int
	}{
		"no key":        {form: valid(), key: "", status: http.StatusForbidden},
		"wrong key":     {form: valid(), key: "nope", status: http.StatusForbidden},
		"bad nonce":     {form: with("nonce", "x"), key: apiKey, status: http.StatusForbidden},
		"bad form id":   {form: with("form_id", "abc"), key: apiKey, status: http.StatusBadRequest},
		"unknown type":  {form: with("form_type", "survey"), key: apiKey, status: http.StatusBadRequest},
		"bad format":    {form: with("format", "docx"), key: apiKey, status: http.StatusBadRequest},
		"missing form":  {form: with("form_id", "99"), key: apiKey, status: http.StatusNotFound},
		"type mismatch": {form: with("form_type", "quiz"), key: apiKey, status: http.StatusUnprocessableEntity},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := e.do(http.MethodPost, "/export", tt.form, tt.key)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
			body := rec.Body.String()
			assert.False(t, gjson.Get(body, "success").Bool())
			assert.NotEmpty(t, gjson.Get(body, "data.message").String())
		})
	}
}

func TestExportChecksCallerBeforeRequestShape(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	malformed := func(nonce string) url.Values {
		return url.Values{"form_id": {"0"}, "form_type": {"bogus"}, "format": {"csv"}, "nonce": {nonce}}
	}
	tests := map[string]struct {
		path    string
		form    url.Values
		key     string
		status  int
		message string
	}{
		"export no key": {
			path: "/export", form: malformed(""), key: "",
			status: http.StatusForbidden, message: "Permission denied.",
		},
		"async no key": {
			path: "/export/async", form: malformed(""), key: "",
			status: http.StatusForbidden, message: "Permission denied.",
		},
		"export bad nonce": {
			path: "/export", form: malformed("x"), key: apiKey, status: http.StatusForbidden,
		},
		"async bad nonce": {
			path: "/export/async", form: malformed("x"), key: apiKey, status: http.StatusForbidden,
		},
		"export valid nonce": {
			path: "/export", form: malformed(e.nonce(t)), key: apiKey, status: http.StatusBadRequest,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := e.do(http.MethodPost, tt.path, tt.form, tt.key)
			assert.Equal(t, tt.status, rec.Code)
			msg := gjson.Get(rec.Body.String(), "data.message").String()
			if tt.message != "" {
				assert.Equal(t, tt.message, msg)
			}
			if tt.status == http.StatusForbidden {
				assert.NotContains(t, msg, "form_type")
			}
		})
	}
}

func TestExportWithoutAPIKey(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "")
	rec := e.do(http.MethodPost, "/export", url.Values{
		"form_id": {"2"}, "form_type": {"poll"}, "format": {"json"}, "nonce": {e.nonce(t)},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "entries.#").Int())
	assert.Equal(t, "Lunch", gjson.Get(rec.Body.String(), "meta.form_name").String())
}

func TestExportAsyncAndDownload(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	rec := e.do(http.MethodPost, "/export/async", url.Values{
		"form_id": {"1"}, "form_type": {"cform"}, "format": {"json"}, "nonce": {e.nonce(t)},
	}, apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	link := gjson.Get(rec.Body.String(), "data.download_url").String()
	require.True(t, strings.HasPrefix(link, "/export/download?token="), link)

	// The token authorizes the download without the API key.
	rec = e.do(http.MethodGet, link, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Ann", gjson.Get(rec.Body.String(), "entries.0.name").String())

	rec = e.do(http.MethodGet, link, nil, "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestDownloadErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/export/download", nil, "").Code)
	assert.Equal(t, http.StatusGone, e.do(http.MethodGet, "/export/download?token=forged", nil, "").Code)
}

func TestNonce(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/export/nonce", nil, "").Code)

	rec := e.do(http.MethodGet, "/export/nonce", nil, apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3600), gjson.Get(rec.Body.String(), "data.expires_in").Int())
	assert.NoError(t, e.signer.VerifyNonce(gjson.Get(rec.Body.String(), "data.nonce").String()))
}

func TestOptions(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	tests := map[string]struct {
		form   url.Values
		status int
	}{
		"csv":        {form: url.Values{"format": {"CSV"}, "nonce": {e.nonce(t)}}, status: http.StatusOK},
		"empty":      {form: url.Values{"nonce": {e.nonce(t)}}, status: http.StatusBadRequest},
		"unknown":    {form: url.Values{"format": {"docx"}, "nonce": {e.nonce(t)}}, status: http.StatusNotFound},
		"bad nonce":  {form: url.Values{"format": {"csv"}, "nonce": {"x"}}, status: http.StatusForbidden},
		"no nonce":   {form: url.Values{"format": {"csv"}}, status: http.StatusForbidden},
		"empty form": {form: url.Values{}, status: http.StatusForbidden},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := e.do(http.MethodPost, "/export/options", tt.form, apiKey)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status == http.StatusOK, gjson.Get(rec.Body.String(), "success").Bool())
		})
	}

	rec := e.do(http.MethodPost, "/export/options", url.Values{"format": {"csv"}, "nonce": {e.nonce(t)}}, apiKey)
	assert.Contains(t, gjson.Get(rec.Body.String(), "data.html").String(), `name="export_option_csv_delimiter"`)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/export/options", url.Values{"format": {"csv"}}, "").Code)
}

func TestHistory(t *testing.T) {
	t.Parallel()
	e := newEnv(t, apiKey)
	for _, format := range []string{"csv", "xml"} {
		rec := e.do(http.MethodPost, "/export", url.Values{
			"form_id": {"1"}, "form_type": {"cform"}, "format": {format}, "nonce": {e.nonce(t)},
		}, apiKey)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/history", nil, "").Code)

	rec := e.do(http.MethodGet, "/history?form_id=1&limit=1", nil, apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "data.exports.#").Int())
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "data.exports.0.form_id").Int())

	rec = e.do(http.MethodGet, "/history/1", nil, apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "data.exports").Int())
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "data.rows").Int())

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/history/abc", nil, apiKey).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/history?limit=-1", nil, apiKey).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/history?form_id=x", nil, apiKey).Code)
}
