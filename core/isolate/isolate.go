// Package isolate splits a paragraph's runs so that a target substring
// occupies a contiguous set of whole runs.
//
// Only the first occurrence of the target is considered. Split fragments
// carry a copy of the original run's formatting; the original run keeps its
// position and identity and is rewritten to hold the target part.
package isolate

import (
	"strings"

	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/runindex"
)

// Piece describes what happens to one run overlapping the target.
type Piece struct {
	Run    *document.Run
	Before string
	Middle string
	After  string
}

// Whole reports whether the run is already exactly aligned with its part of
// the target.
func (pc Piece) Whole() bool {
	return pc.Before == "" && pc.After == ""
}

// Split is a planned isolation. Nothing is mutated until Apply.
type Split struct {
	Target string
	Start  int
	End    int
	Pieces []Piece

	paragraph *document.Paragraph
	content   []document.Inline
}

// Plan computes how the paragraph's runs must be split to isolate target.
func Plan(p *document.Paragraph, target string) (*Split, error) {
	if target == "" {
		return nil, errors.NewValidation("target", "must not be empty")
	}

	ix := runindex.Build(p)
	start, end, ok := ix.Find(target)
	if !ok {
		return nil, &errors.TargetNotFoundError{Target: target, Scanned: 1, Paragraph: -1}
	}

	s := &Split{Target: target, Start: start, End: end, paragraph: p}
	overlapping := ix.Overlapping(start, end)
	split := make(map[int]Piece, len(overlapping))

	for _, span := range overlapping {
		r := ix.Run(span.Run)
		localStart := max(0, start-span.Start)
		localEnd := min(span.Len(), end-span.Start)

		pc := Piece{
			Run:    r,
			Before: r.Text[:localStart],
			Middle: r.Text[localStart:localEnd],
			After:  r.Text[localEnd:],
		}
		s.Pieces = append(s.Pieces, pc)
		if !pc.Whole() {
			split[span.Pos] = pc
		}
	}

	s.content = make([]document.Inline, 0, len(p.Content)+2*len(split))
	for pos, in := range p.Content {
		pc, ok := split[pos]
		if !ok {
			s.content = append(s.content, in)
			continue
		}
		if pc.Before != "" {
			s.content = append(s.content, &document.Run{Text: pc.Before, Format: pc.Run.Format.Clone()})
		}
		s.content = append(s.content, in)
		if pc.After != "" {
			s.content = append(s.content, &document.Run{Text: pc.After, Format: pc.Run.Format.Clone()})
		}
	}

	if err := s.verify(p.Text()); err != nil {
		return nil, err
	}
	return s, nil
}

// verify checks the planned state before anything is committed.
func (s *Split) verify(original string) error {
	middle := make(map[*document.Run]string, len(s.Pieces))
	for _, pc := range s.Pieces {
		middle[pc.Run] = pc.Middle
	}

	var planned strings.Builder
	for _, in := range s.content {
		r, ok := in.(*document.Run)
		if !ok {
			continue
		}
		if m, ok := middle[r]; ok {
			planned.WriteString(m)
		} else {
			planned.WriteString(r.Text)
		}
	}
	if planned.String() != original {
		return errors.NewInvariant("text-preservation", -1, "planned text %q differs from %q", planned.String(), original)
	}

	var isolated strings.Builder
	for _, pc := range s.Pieces {
		isolated.WriteString(pc.Middle)
	}
	if isolated.String() != s.Target {
		return errors.NewInvariant("exact-isolation", -1, "isolated text %q differs from target %q", isolated.String(), s.Target)
	}
	return nil
}

// Splits reports how many runs the plan will split.
func (s *Split) Splits() int {
	n := 0
	for _, pc := range s.Pieces {
		if !pc.Whole() {
			n++
		}
	}
	return n
}

// Apply commits the plan to the paragraph and returns the isolated runs in
// document order.
func (s *Split) Apply() []*document.Run {
	s.paragraph.Content = s.content
	runs := make([]*document.Run, 0, len(s.Pieces))
	for _, pc := range s.Pieces {
		pc.Run.Text = pc.Middle
		runs = append(runs, pc.Run)
	}
	return runs
}

// Isolate plans and applies the isolation of target within p. On error the
// paragraph is left untouched.
func Isolate(p *document.Paragraph, target string) ([]*document.Run, error) {
	s, err := Plan(p, target)
	if err != nil {
		return nil, err
	}
	return s.Apply(), nil
}
