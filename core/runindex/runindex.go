// Package runindex builds a flattened character-offset view of a paragraph's
// runs.
//
// Offsets are byte offsets into the UTF-8 concatenation of the run texts.
// Spans are half-open and contiguous: Spans[i].End == Spans[i+1].Start.
package runindex

import (
	"strings"

	"github.com/FocuswithJustin/docanchor/core/document"
)

// Span locates one run inside the paragraph's concatenated text.
type Span struct {
	Start int // inclusive offset
	End   int // exclusive offset
	Run   int // ordinal among the paragraph's runs
	Pos   int // position in Paragraph.Content
}

// Len returns the length of the run covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Index is the offset view of a single paragraph.
type Index struct {
	Text  string
	Spans []Span

	runs []*document.Run
}

// Build scans the paragraph's runs in order. It never fails; an empty
// paragraph yields no spans and empty text.
func Build(p *document.Paragraph) *Index {
	ix := &Index{}
	if p == nil {
		return ix
	}

	var b strings.Builder
	for pos, in := range p.Content {
		r, ok := in.(*document.Run)
		if !ok {
			continue
		}
		start := b.Len()
		b.WriteString(r.Text)
		ix.Spans = append(ix.Spans, Span{
			Start: start,
			End:   b.Len(),
			Run:   len(ix.runs),
			Pos:   pos,
		})
		ix.runs = append(ix.runs, r)
	}
	ix.Text = b.String()
	return ix
}

// Run returns the run for the given ordinal.
func (ix *Index) Run(i int) *document.Run {
	return ix.runs[i]
}

// Find returns the half-open range of the first occurrence of target.
func (ix *Index) Find(target string) (start, end int, ok bool) {
	if target == "" || len(ix.Spans) == 0 {
		return 0, 0, false
	}
	start = strings.Index(ix.Text, target)
	if start < 0 {
		return 0, 0, false
	}
	return start, start + len(target), true
}

// Overlapping returns the spans whose interval overlaps [start, end).
// Zero-length spans never overlap anything.
func (ix *Index) Overlapping(start, end int) []Span {
	var out []Span
	for _, s := range ix.Spans {
		if s.Len() == 0 {
			continue
		}
		if s.Start < end && s.End > start {
			out = append(out, s)
		}
	}
	return out
}
