package tabexport

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		heap      uint64
		limit     uint64
		threshold float64
		want      bool
	}{
		"below default threshold": {heap: 700, limit: 1000, want: false},
		"above default threshold": {heap: 900, limit: 1000, want: true},
		"custom threshold":        {heap: 900, limit: 1000, threshold: 0.95, want: false},
		"at threshold":            {heap: 800, limit: 1000, want: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			collected := 0
			g := &MemoryGuard{
				Limit:     tt.limit,
				Threshold: tt.threshold,
				readStats: func(ms *runtime.MemStats) { ms.HeapAlloc = tt.heap },
				collect:   func() { collected++ },
			}
			assert.Equal(t, tt.want, g.Critical())
			assert.Equal(t, tt.want, g.Check())
			if tt.want {
				assert.Equal(t, 1, collected)
			} else {
				assert.Zero(t, collected)
			}
		})
	}
}

func TestSinkFlushRunsGuard(t *testing.T) {
	t.Parallel()
	collected := 0
	g := &MemoryGuard{
		Limit:     100,
		readStats: func(ms *runtime.MemStats) { ms.HeapAlloc = 99 },
		collect:   func() { collected++ },
	}
	s := NewSink(&bytes.Buffer{}, g)
	require.NoError(t, endChunk(s))
	require.NoError(t, endChunk(s))
	assert.Equal(t, 2, s.Flushes())
	assert.Equal(t, 2, collected)
}

func TestCSVWriterEscapeChar(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		input string
		want  string
	}{
		"plain":             {input: "abc", want: "abc"},
		"enclosure":         {input: `say "hi"`, want: `"say ""hi"""`},
		"escaped enclosure": {input: `a\"b`, want: `"a\"b"`},
		"trailing escape":   {input: `a\`, want: `"a\"`},
		"space":             {input: "a b", want: `"a b"`},
		"formula":           {input: "=1+1", want: "'=1+1"},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			cw := newCSVWriter(&buf, Options{})
			require.NoError(t, cw.writeRow([]string{tt.input}))
			require.NoError(t, cw.w.Flush())
			assert.Equal(t, tt.want+"\r\n", buf.String())
		})
	}
}

func TestOptionRune(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ',', optionRune("", ','))
	assert.Equal(t, '\t', optionRune(`\t`, ','))
	assert.Equal(t, '\t', optionRune("TAB", ','))
	assert.Equal(t, ';', optionRune(";;", ','))
	assert.Equal(t, ',', optionRune("\xff", ','))
}

func TestLineEnding(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "\r\n", lineEnding(""))
	assert.Equal(t, "\r\n", lineEnding("CRLF"))
	assert.Equal(t, "\n", lineEnding("lf"))
	assert.Equal(t, "\r", lineEnding(`\r`))
	assert.Equal(t, "|", lineEnding("|"))
}

func TestEscapeNonASCII(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `"café"`, string(escapeNonASCII([]byte(`"café"`))))
	assert.Equal(t, `"😀"`, string(escapeNonASCII([]byte(`"😀"`))))
	assert.Equal(t, `{"a":1}`, string(escapeNonASCII([]byte(`{"a":1}`))))
}

func TestOrderedObject(t *testing.T) {
	t.Parallel()
	var o orderedObject
	o = o.set("b", "1")
	o = o.set("a", "<2>")
	o = o.set("b", "3")
	data, err := o.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"b":"3","a":"<2>"}`, string(data))

	data, err = orderedObject(nil).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestSharedStrings(t *testing.T) {
	t.Parallel()
	s := newSharedStrings()
	assert.Equal(t, 0, s.index("a"))
	assert.Equal(t, 1, s.index("b"))
	assert.Equal(t, 0, s.index("a"))
	assert.Equal(t, 2, s.index("a & b"))
	out := s.xml()
	assert.Contains(t, out, `count="3" uniqueCount="3"`)
	assert.Contains(t, out, `<si><t xml:space="preserve">a &amp; b</t></si>`)
}

func TestPick(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "A4", pick("a4", "Letter", "A4", "Letter"))
	assert.Equal(t, "Letter", pick("B5", "Letter", "A4", "Letter"))
	assert.Equal(t, "Letter", pick("", "Letter"))
}
