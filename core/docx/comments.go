package docx

import (
	"sort"
	"strings"
	"time"

	"github.com/FocuswithJustin/docanchor/core/document"
)

// CommentInfo describes one comment and the text it is anchored to.
type CommentInfo struct {
	ID       int       `json:"id"`
	Author   string    `json:"author"`
	Initials string    `json:"initials,omitempty"`
	Date     time.Time `json:"date,omitempty"`
	Body     string    `json:"body"`
	// Anchor is the text between the comment's range markers. Paragraph
	// breaks inside the range become newlines.
	Anchor string `json:"anchor"`
	// Paragraph is the index of the paragraph holding the range start, or
	// -1 when the comment has no range in the body.
	Paragraph int  `json:"paragraph"`
	Anchored  bool `json:"anchored"`
}

// Comments lists the package's comments ordered by ID.
func Comments(pkg *Package) []CommentInfo {
	return ListComments(pkg.Document())
}

// ListComments lists the comments of doc ordered by ID, with the text each
// one is anchored to.
func ListComments(doc *document.Document) []CommentInfo {
	anchors, starts := collectAnchors(doc)

	out := make([]CommentInfo, 0, len(doc.Annotations))
	for _, a := range doc.Annotations {
		info := CommentInfo{
			ID:        a.ID,
			Author:    a.Author,
			Initials:  a.Initials,
			Date:      a.Date,
			Body:      a.Body,
			Paragraph: -1,
		}
		if b, ok := anchors[a.ID]; ok {
			info.Anchor = b.String()
			info.Paragraph = starts[a.ID]
			info.Anchored = true
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// collectAnchors walks the body once, accumulating run text for every range
// that is open at the time.
func collectAnchors(doc *document.Document) (map[int]*strings.Builder, map[int]int) {
	anchors := make(map[int]*strings.Builder)
	starts := make(map[int]int)
	open := make(map[int]bool)

	for i, p := range doc.Paragraphs {
		if i > 0 {
			for id := range open {
				anchors[id].WriteString("\n")
			}
		}
		for _, in := range p.Content {
			switch v := in.(type) {
			case *document.RangeStart:
				if _, seen := anchors[v.ID]; !seen {
					anchors[v.ID] = &strings.Builder{}
					starts[v.ID] = i
					open[v.ID] = true
				}
			case *document.RangeEnd:
				delete(open, v.ID)
			case *document.Run:
				for id := range open {
					anchors[id].WriteString(v.Text)
				}
			}
		}
	}
	return anchors, starts
}
