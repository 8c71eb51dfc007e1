package docx

import (
	"strings"

	"github.com/FocuswithJustin/docanchor/core/document"
)

// OutlineItem is one inline node in an outline.
type OutlineItem struct {
	Kind string `json:"kind"` // run, start, end, reference or opaque
	Text string `json:"text,omitempty"`
	ID   int    `json:"id,omitempty"`
	// Element names the opaque element, e.g. "w:pPr".
	Element string `json:"element,omitempty"`
}

// OutlineParagraph summarizes one body paragraph.
type OutlineParagraph struct {
	Index int           `json:"index"`
	Text  string        `json:"text"`
	Runs  int           `json:"runs"`
	Items []OutlineItem `json:"items"`
}

// Outline dumps the paragraph and run structure of the package body.
func Outline(pkg *Package) []OutlineParagraph {
	return OutlineOf(pkg.Document())
}

// OutlineOf dumps the paragraph and run structure of doc.
func OutlineOf(doc *document.Document) []OutlineParagraph {
	out := make([]OutlineParagraph, 0, len(doc.Paragraphs))
	for i, p := range doc.Paragraphs {
		op := OutlineParagraph{Index: i, Text: p.Text(), Runs: len(p.Runs())}
		for _, in := range p.Content {
			op.Items = append(op.Items, outlineItem(in))
		}
		out = append(out, op)
	}
	return out
}

func outlineItem(in document.Inline) OutlineItem {
	switch v := in.(type) {
	case *document.Run:
		return OutlineItem{Kind: "run", Text: v.Text}
	case *document.RangeStart:
		return OutlineItem{Kind: "start", ID: v.ID}
	case *document.RangeEnd:
		return OutlineItem{Kind: "end", ID: v.ID}
	case *document.Reference:
		return OutlineItem{Kind: "reference", ID: v.ID}
	case *document.Opaque:
		return OutlineItem{Kind: "opaque", Element: elementName(v.XML)}
	}
	return OutlineItem{Kind: "unknown"}
}

// elementName returns the tag name at the start of an XML fragment.
func elementName(fragment string) string {
	s := strings.TrimPrefix(strings.TrimSpace(fragment), "<")
	if i := strings.IndexAny(s, " />\t\n"); i >= 0 {
		return s[:i]
	}
	return s
}
