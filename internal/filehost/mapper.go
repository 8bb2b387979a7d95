package filehost

import (
	"time"

	"github.com/bjaus/tabexport/pipeline"
)

const dateLayout = time.DateTime

type customFormMapper struct {
	fields []FieldSpec
}

func (m customFormMapper) Headers() []string {
	var h []string
	for _, f := range m.fields {
		if len(f.Sub) == 0 {
			h = append(h, f.Label)
			continue
		}
		for _, s := range f.Sub {
			h = append(h, s.Label)
		}
	}
	return h
}

// Rows skips entries that carry no field data.
func (m customFormMapper) Rows(e pipeline.Entry) [][]any {
	if len(e.Fields) == 0 {
		return nil
	}
	var row []any
	for _, f := range m.fields {
		v := e.Fields[f.Key]
		if len(f.Sub) == 0 {
			row = append(row, v)
			continue
		}
		sub, _ := v.(map[string]any)
		for _, s := range f.Sub {
			row = append(row, sub[s.Key])
		}
	}
	return [][]any{row}
}

type quizMapper struct {
	kind string
}

func (quizMapper) Headers() []string {
	return []string{"Date", "Question", "Answer", "Result"}
}

// Rows emits one row per answer. Only the first row carries the date.
func (m quizMapper) Rows(e pipeline.Entry) [][]any {
	answers, _ := e.Fields["answers"].([]any)
	result := resultTitle(e.Fields["result"])
	var rows [][]any
	for i, a := range answers {
		ans, _ := a.(map[string]any)
		date := ""
		if i == 0 {
			date = e.Created.Format(dateLayout)
		}
		res := result
		if m.kind == QuizKnowledge {
			res = ""
			if !empty(ans["answer"]) {
				res = "Incorrect"
				if ok, _ := ans["correct"].(bool); ok {
					res = "Correct"
				}
			}
		}
		rows = append(rows, []any{date, ans["question"], ans["answer"], res})
	}
	return rows
}

// resultTitle accepts either a plain title or a result object with one.
func resultTitle(v any) any {
	if m, ok := v.(map[string]any); ok {
		return m["title"]
	}
	return v
}

func empty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	}
	return false
}

type pollMapper struct{}

func (pollMapper) Headers() []string {
	return []string{"Date", "Answer", "Extra"}
}

func (pollMapper) Rows(e pipeline.Entry) [][]any {
	return [][]any{{e.Created.Format(dateLayout), e.Fields["answer"], e.Fields["extra"]}}
}
