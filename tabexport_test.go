package tabexport_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/tabexport"
)

// --- Fixtures ---

func contactDataset() *tabexport.Dataset {
	return &tabexport.Dataset{
		Headers: []string{"Name", "Email"},
		Rows: [][]any{
			{"Ann", "a@x.com"},
			{"=SUM(A1)", "b@x.com"},
		},
		Meta: tabexport.Meta{
			FormID:       7,
			FormName:     "Contact",
			FormType:     "custom_form",
			ExportDate:   "2024-01-02 03:04:05",
			EntriesCount: 2,
		},
	}
}

func emptyDataset() *tabexport.Dataset {
	ds := contactDataset()
	ds.Rows = nil
	ds.Meta.EntriesCount = 0
	return ds
}

func rowsDataset(n int) *tabexport.Dataset {
	ds := &tabexport.Dataset{
		Headers: []string{"ID", "First Name", "Note"},
		Meta:    tabexport.Meta{FormID: 1, FormName: "Survey", FormType: "custom_form", EntriesCount: n},
	}
	for i := 0; i < n; i++ {
		ds.Rows = append(ds.Rows, []any{i, "Ann", "hello world"})
	}
	return ds
}

// --- Helpers ---

type errWriter struct{}

func (e *errWriter) Write([]byte) (int, error) {
	return 0, errWriteFailed
}

// failAfterN fails on the (n+1)th call to Write.
type failAfterN struct {
	n     int
	calls int
}

func (f *failAfterN) Write(p []byte) (int, error) {
	if f.calls >= f.n {
		return 0, errWriteFailed
	}
	f.calls++
	return len(p), nil
}

var errWriteFailed = errors.New("write failed")

// ============================================================
// Tests
// ============================================================

func TestFormats(t *testing.T) {
	t.Parallel()
	got := tabexport.Formats()
	assert.Equal(t, []string{"csv", "excel", "json", "xml", "pdf", "html"}, got)
	// Returned slice must be a copy.
	got[0] = "modified"
	assert.Equal(t, tabexport.CSV, tabexport.Formats()[0])
}

func TestWriteUsesStreamForStreamingEncoders(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	var buf bytes.Buffer
	err := tabexport.Write(&buf, enc, contactDataset(), nil)
	require.NoError(t, err)

	want, err := enc.Export(contactDataset(), nil)
	require.NoError(t, err)
	assert.Equal(t, string(want), buf.String())
}

func TestWriteBufferedEncoder(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewHTMLEncoder(tabexport.DefaultSettings())
	var buf bytes.Buffer
	require.NoError(t, tabexport.Write(&buf, enc, contactDataset(), nil))
	assert.Contains(t, buf.String(), "<table")
}

func TestWriteError(t *testing.T) {
	t.Parallel()
	reg := tabexport.NewDefaultRegistry(tabexport.DefaultSettings(), nil)
	for _, id := range []string{tabexport.CSV, tabexport.JSON, tabexport.XML, tabexport.HTML, tabexport.PDF} {
		id := id
		t.Run(id, func(t *testing.T) {
			t.Parallel()
			enc, ok := reg.Get(id)
			require.True(t, ok)
			err := tabexport.Write(&errWriter{}, enc, contactDataset(), nil)
			assert.ErrorIs(t, err, errWriteFailed)
		})
	}
}

func TestMarshalMatchesExport(t *testing.T) {
	t.Parallel()
	reg := tabexport.NewDefaultRegistry(tabexport.DefaultSettings(), nil)
	for _, id := range []string{tabexport.CSV, tabexport.JSON, tabexport.XML, tabexport.HTML} {
		id := id
		t.Run(id, func(t *testing.T) {
			t.Parallel()
			enc, err := reg.Lookup(id)
			require.NoError(t, err)
			got, err := tabexport.Marshal(enc, contactDataset(), nil)
			require.NoError(t, err)
			want, err := enc.Export(contactDataset(), nil)
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}

func TestEveryFormatHandlesEmptyRows(t *testing.T) {
	t.Parallel()
	s := tabexport.DefaultSettings()
	reg := tabexport.NewDefaultRegistry(s, nil)
	require.Len(t, reg.IDs(), 6)
	for _, id := range reg.IDs() {
		id := id
		t.Run(id, func(t *testing.T) {
			t.Parallel()
			enc, _ := reg.Get(id)
			data, err := enc.Export(emptyDataset(), nil)
			require.NoError(t, err)
			assert.NotEmpty(t, data)

			var buf bytes.Buffer
			require.NoError(t, enc.Stream(&buf, emptyDataset(), nil))
			assert.NotEmpty(t, buf.Bytes())
		})
	}
}

func TestDatasetCells(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		row  []any
		want []string
	}{
		"exact":     {row: []any{"a", "b", "c"}, want: []string{"a", "b", "c"}},
		"short":     {row: []any{"a"}, want: []string{"a", "", ""}},
		"long":      {row: []any{"a", "b", "c", "d"}, want: []string{"a", "b", "c"}},
		"empty":     {row: nil, want: []string{"", "", ""}},
		"non-text":  {row: []any{1, true, []string{"x", "y"}}, want: []string{"1", "1", "x, y"}},
		"composite": {row: []any{map[string]int{"a": 1}, struct{}{}, nil}, want: []string{"", "", ""}},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ds := &tabexport.Dataset{Headers: []string{"A", "B", "C"}, Rows: [][]any{tt.row}}
			assert.Equal(t, tt.want, ds.Cells(0))
		})
	}
}

func TestDatasetTitle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Contact", contactDataset().Title("Export"))
	assert.Equal(t, "Export", (&tabexport.Dataset{}).Title("Export"))
}

func TestEncodersDoNotMutateDataset(t *testing.T) {
	t.Parallel()
	reg := tabexport.NewDefaultRegistry(tabexport.DefaultSettings(), nil)
	for _, id := range reg.IDs() {
		id := id
		t.Run(id, func(t *testing.T) {
			t.Parallel()
			ds := contactDataset()
			enc, _ := reg.Get(id)
			_, err := enc.Export(ds, nil)
			require.NoError(t, err)
			assert.Equal(t, contactDataset(), ds)
		})
	}
}
