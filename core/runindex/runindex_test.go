package runindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/FocuswithJustin/docanchor/core/document"
)

func TestBuild(t *testing.T) {
	p := document.NewParagraph("The quick ", "brown", " fox jumps")
	p.Content = append([]document.Inline{&document.Opaque{XML: "<w:pPr/>"}}, p.Content...)

	ix := Build(p)
	if ix.Text != "The quick brown fox jumps" {
		t.Errorf("Text = %q", ix.Text)
	}
	want := []Span{
		{Start: 0, End: 10, Run: 0, Pos: 1},
		{Start: 10, End: 15, Run: 1, Pos: 2},
		{Start: 15, End: 25, Run: 2, Pos: 3},
	}
	if diff := cmp.Diff(want, ix.Spans); diff != "" {
		t.Errorf("Spans mismatch (-want +got):\n%s", diff)
	}
	if ix.Run(1) != p.Content[2] {
		t.Error("Run(1) should return the second run by identity")
	}
}

func TestBuildEmpty(t *testing.T) {
	for name, p := range map[string]*document.Paragraph{
		"nil":        nil,
		"no content": {},
		"only opaque": {Content: []document.Inline{&document.Opaque{XML: "<w:pPr/>"}}},
	} {
		t.Run(name, func(t *testing.T) {
			ix := Build(p)
			if ix.Text != "" || len(ix.Spans) != 0 {
				t.Errorf("Build() = %+v, want empty", ix)
			}
			if _, _, ok := ix.Find("a"); ok {
				t.Error("Find on empty index should fail")
			}
		})
	}
}

func TestBuildInvariants(t *testing.T) {
	p := document.NewParagraph("", "ab", "", "c", "déf", "")
	ix := Build(p)

	total := 0
	for i, s := range ix.Spans {
		if s.Start > s.End {
			t.Errorf("span %d not monotone: %+v", i, s)
		}
		if i > 0 && ix.Spans[i-1].End != s.Start {
			t.Errorf("span %d does not abut previous: %+v", i, s)
		}
		total += s.Len()
	}
	if total != len(ix.Text) {
		t.Errorf("sum of run lengths = %d, want %d", total, len(ix.Text))
	}
	if len(ix.Spans) != 6 {
		t.Errorf("len(Spans) = %d, want 6 (zero-length runs included)", len(ix.Spans))
	}
}

func TestBuildIdempotent(t *testing.T) {
	p := document.NewParagraph("one ", "two ", "three")
	first := Build(p)
	second := Build(p)
	if diff := cmp.Diff(first.Spans, second.Spans); diff != "" {
		t.Errorf("re-scan differs (-first +second):\n%s", diff)
	}
	if first.Text != second.Text {
		t.Errorf("re-scan text differs: %q vs %q", first.Text, second.Text)
	}
}

func TestFind(t *testing.T) {
	ix := Build(document.NewParagraph("abc ", "abc"))

	tests := []struct {
		target    string
		wantStart int
		wantEnd   int
		wantOK    bool
	}{
		{"abc", 0, 3, true},
		{"c a", 2, 5, true},
		{"abc abc", 0, 7, true},
		{"", 0, 0, false},
		{"xyz", 0, 0, false},
	}
	for _, tt := range tests {
		start, end, ok := ix.Find(tt.target)
		if start != tt.wantStart || end != tt.wantEnd || ok != tt.wantOK {
			t.Errorf("Find(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.target, start, end, ok, tt.wantStart, tt.wantEnd, tt.wantOK)
		}
	}
}

func TestOverlapping(t *testing.T) {
	ix := Build(document.NewParagraph("The quick ", "brown", "", " fox jumps"))

	got := ix.Overlapping(10, 19)
	var runs []int
	for _, s := range got {
		runs = append(runs, s.Run)
	}
	if diff := cmp.Diff([]int{1, 3}, runs); diff != "" {
		t.Errorf("Overlapping runs mismatch (-want +got):\n%s", diff)
	}

	if got := ix.Overlapping(10, 10); len(got) != 0 {
		t.Errorf("empty interval overlapped %d spans", len(got))
	}
	// touching a boundary is not an overlap
	if got := ix.Overlapping(0, 10); len(got) != 1 || got[0].Run != 0 {
		t.Errorf("Overlapping(0, 10) = %+v, want only run 0", got)
	}
}
