// Package termtable renders aligned text tables for terminal listings.
package termtable

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Border selects the frame drawn around a table.
type Border int

const (
	// Plain separates columns with two spaces and underlines the header.
	Plain Border = iota
	Rounded
	ASCII
)

// Align is the horizontal placement of a column's cells.
type Align int

const (
	Left Align = iota
	Right
	Center
)

type frame struct {
	tl, tr, bl, br string
	h, v           string
	tt, bt, lt, rt string
	x              string
}

var frames = map[Border]frame{
	Rounded: {
		tl: "╭", tr: "╮", bl: "╰", br: "╯",
		h: "─", v: "│",
		tt: "┬", bt: "┴", lt: "├", rt: "┤",
		x: "┼",
	},
	ASCII: {
		tl: "+", tr: "+", bl: "+", br: "+",
		h: "-", v: "|",
		tt: "+", bt: "+", lt: "+", rt: "+",
		x: "+",
	},
}

// Table is a header and rows of cells. Column widths follow the widest cell,
// measured in terminal cells, capped by MaxWidths where positive.
type Table struct {
	Title     string
	Header    []string
	Rows      [][]string
	Aligns    []Align
	MaxWidths []int
	Border    Border
}

// Append adds a row.
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Write renders t to w. A table without header or rows writes nothing.
func (t *Table) Write(w io.Writer) error {
	if len(t.Header) == 0 && len(t.Rows) == 0 {
		return nil
	}
	widths := t.widths()
	tw := &tableWriter{w: w, widths: widths, aligns: t.Aligns}
	if t.Border == Plain {
		tw.plain(t.Header, t.Rows)
	} else {
		tw.framed(frames[t.Border], t.Title, t.Header, t.Rows)
	}
	return tw.err
}

func (t *Table) widths() []int {
	n := len(t.Header)
	for _, r := range t.Rows {
		n = max(n, len(r))
	}
	widths := make([]int, n)
	measure := func(cells []string) {
		for i, c := range cells {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}
	measure(t.Header)
	for _, r := range t.Rows {
		measure(r)
	}
	for i, m := range t.MaxWidths {
		if i < n && m > 0 && widths[i] > m {
			widths[i] = m
		}
	}
	return widths
}

// tableWriter keeps the first write error and turns later writes into no-ops.
type tableWriter struct {
	w      io.Writer
	widths []int
	aligns []Align
	err    error
}

func (tw *tableWriter) line(s string) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintln(tw.w, s)
}

func (tw *tableWriter) cells(row []string) []string {
	out := make([]string, len(tw.widths))
	for i, width := range tw.widths {
		var c string
		if i < len(row) {
			c = row[i]
		}
		a := Left
		if i < len(tw.aligns) {
			a = tw.aligns[i]
		}
		out[i] = pad(fit(c, width), width, a)
	}
	return out
}

func (tw *tableWriter) plain(header []string, rows [][]string) {
	join := func(cells []string) string {
		return strings.TrimRight(strings.Join(cells, "  "), " ")
	}
	if len(header) > 0 {
		tw.line(join(tw.cells(header)))
		rules := make([]string, len(tw.widths))
		for i, width := range tw.widths {
			rules[i] = strings.Repeat("-", width)
		}
		tw.line(strings.Join(rules, "  "))
	}
	for _, r := range rows {
		tw.line(join(tw.cells(r)))
	}
}

func (tw *tableWriter) framed(f frame, title string, header []string, rows [][]string) {
	if title != "" {
		tw.rule(f.tl, f.h, f.h, f.tr)
		inner := 0
		for _, width := range tw.widths {
			inner += width + 3
		}
		tw.line(f.v + " " + pad(fit(title, inner-3), inner-3, Center) + " " + f.v)
		tw.rule(f.lt, f.h, f.tt, f.rt)
	} else {
		tw.rule(f.tl, f.h, f.tt, f.tr)
	}
	if len(header) > 0 {
		tw.row(f.v, header)
		tw.rule(f.lt, f.h, f.x, f.rt)
	}
	for _, r := range rows {
		tw.row(f.v, r)
	}
	tw.rule(f.bl, f.h, f.bt, f.br)
}

func (tw *tableWriter) rule(left, fill, mid, right string) {
	parts := make([]string, len(tw.widths))
	for i, width := range tw.widths {
		parts[i] = strings.Repeat(fill, width+2)
	}
	tw.line(left + strings.Join(parts, mid) + right)
}

func (tw *tableWriter) row(v string, cells []string) {
	tw.line(v + " " + strings.Join(tw.cells(cells), " "+v+" ") + " " + v)
}

// fit truncates s to width cells, marking the cut with "..." when there is
// room for it.
func fit(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func pad(s string, width int, a Align) string {
	n := width - runewidth.StringWidth(s)
	if n <= 0 {
		return s
	}
	switch a {
	case Right:
		return strings.Repeat(" ", n) + s
	case Center:
		return strings.Repeat(" ", n/2) + s + strings.Repeat(" ", n-n/2)
	}
	return s + strings.Repeat(" ", n)
}
