package tabexport_test

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/tabexport"
)

func TestCSVExportDefaults(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	got, err := enc.Export(contactDataset(), nil)
	require.NoError(t, err)
	want := "\xEF\xBB\xBFName,Email\r\nAnn,a@x.com\r\n'=SUM(A1),b@x.com\r\n"
	assert.Equal(t, want, string(got))
}

func TestCSVFormulaInjection(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		cell string
		want string
	}{
		"equals":     {cell: "=1+2", want: "'=1+2"},
		"plus":       {cell: "+1", want: "'+1"},
		"minus":      {cell: "-1", want: "'-1"},
		"at":         {cell: "@cmd", want: "'@cmd"},
		"tab":        {cell: "\tx", want: "\"'\tx\""},
		"cr":         {cell: "\rx", want: "\"'\rx\""},
		"plain":      {cell: "hello", want: "hello"},
		"inner sign": {cell: "a=b", want: "a=b"},
		"empty":      {cell: "", want: ""},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
			ds := &tabexport.Dataset{Headers: []string{"H"}, Rows: [][]any{{tt.cell}}}
			got, err := enc.Export(ds, tabexport.Options{"bom": "0", "line_ending": "\n"})
			require.NoError(t, err)
			assert.Equal(t, "H\n"+tt.want+"\n", string(got))
		})
	}
}

func TestCSVHeaderInjection(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	ds := &tabexport.Dataset{Headers: []string{"=cmd", "ok"}}
	got, err := enc.Export(ds, tabexport.Options{"bom": "0"})
	require.NoError(t, err)
	assert.Equal(t, "'=cmd,ok\r\n", string(got))
}

func TestCSVQuoting(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		cell string
		opts tabexport.Options
		want string
	}{
		"space":           {cell: "a b", want: `"a b"`},
		"delimiter":       {cell: "a,b", want: `"a,b"`},
		"enclosure":       {cell: `say "hi"`, want: `"say ""hi"""`},
		"escaped quote":   {cell: `a\"b`, want: `"a\"b"`},
		"newline":         {cell: "a\nb", want: "\"a\nb\""},
		"semicolon":       {cell: "a;b", opts: tabexport.Options{"delimiter": ";"}, want: `"a;b"`},
		"comma not delim": {cell: "a,b", opts: tabexport.Options{"delimiter": ";"}, want: "a,b"},
		"single quote":    {cell: "it's", opts: tabexport.Options{"enclosure": "'"}, want: "'it''s'"},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			opts := tabexport.Options{"bom": "0", "line_ending": "\n"}
			for k, v := range tt.opts {
				opts[k] = v
			}
			enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
			ds := &tabexport.Dataset{Headers: []string{"H"}, Rows: [][]any{{tt.cell}}}
			got, err := enc.Export(ds, opts)
			require.NoError(t, err)
			assert.Equal(t, "H\n"+tt.want+"\n", string(got))
		})
	}
}

func TestCSVBOM(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		bom  string
		want bool
	}{
		"enabled":  {bom: "1", want: true},
		"disabled": {bom: "0", want: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
			got, err := enc.Export(contactDataset(), tabexport.Options{"bom": tt.bom})
			require.NoError(t, err)
			assert.Equal(t, tt.want, bytes.HasPrefix(got, []byte{0xEF, 0xBB, 0xBF}))
		})
	}
}

func TestCSVSettingsDefaults(t *testing.T) {
	t.Parallel()
	off := false
	s := tabexport.Settings{CSVDelimiter: "|", CSVBOM: &off}
	enc := tabexport.NewCSVEncoder(s)
	got, err := enc.Export(contactDataset(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(got), "Name|Email\r\n"))
}

func TestCSVTabDelimiter(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	got, err := enc.Export(contactDataset(), tabexport.Options{"delimiter": "\t", "bom": "0"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(got), "Name\tEmail\r\n"))
}

func TestCSVRoundTripCardinality(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	ds := rowsDataset(25)
	ds.Rows[3] = []any{3}
	got, err := enc.Export(ds, tabexport.Options{"bom": "0"})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(got)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 26)
	for _, rec := range records {
		assert.Len(t, rec, 3)
	}
}

func TestCSVStreamFlushesInBatches(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	var buf bytes.Buffer
	sink := tabexport.NewSink(&buf, nil)
	require.NoError(t, enc.Stream(sink, rowsDataset(1001), nil))
	assert.Equal(t, 2, sink.Flushes())
	assert.Equal(t, int64(buf.Len()), sink.Written())

	want, err := enc.Export(rowsDataset(1001), nil)
	require.NoError(t, err)
	assert.Equal(t, string(want), buf.String())
}

func TestCSVStreamWriteError(t *testing.T) {
	t.Parallel()
	enc := tabexport.NewCSVEncoder(tabexport.DefaultSettings())
	err := enc.Stream(&failAfterN{n: 1}, rowsDataset(2000), nil)
	assert.ErrorIs(t, err, errWriteFailed)
}
