// Package document defines the run-based text model that annotations are
// anchored into.
//
// A Document owns its Paragraphs and its Annotation records. A Paragraph is an
// ordered sequence of inline nodes: text runs, range markers, comment
// reference marks and opaque content the model does not interpret. Range
// markers refer to annotation records by integer ID only; the record itself
// lives in Document.Annotations and is resolved by lookup.
package document

import (
	"sort"
	"strings"
	"time"

	"github.com/FocuswithJustin/docanchor/core/errors"
)

// Inline is one element of a paragraph's content sequence.
type Inline interface {
	inline()
}

// Attr is a single attribute carried verbatim on a run element.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Formatting is the opaque formatting bag of a run. The model never
// interprets it; it is only copied.
type Formatting struct {
	Props string `json:"props,omitempty"` // serialized run properties
	Attrs []Attr `json:"attrs,omitempty"` // attributes of the run element itself
}

// Clone returns a deep copy of the formatting.
func (f Formatting) Clone() Formatting {
	c := Formatting{Props: f.Props}
	if len(f.Attrs) > 0 {
		c.Attrs = make([]Attr, len(f.Attrs))
		copy(c.Attrs, f.Attrs)
	}
	return c
}

// Run is a span of text sharing one formatting set.
type Run struct {
	Text   string
	Format Formatting
}

// RangeStart marks the beginning of an annotation's anchored range.
type RangeStart struct {
	ID int
}

// RangeEnd marks the end of an annotation's anchored range.
type RangeEnd struct {
	ID int
}

// Reference is the inline reference mark that follows a range end.
type Reference struct {
	ID     int
	Format Formatting
}

// Opaque holds inline content the model does not interpret. It contributes
// no text and is never split.
type Opaque struct {
	XML string
}

func (*Run) inline()        {}
func (*RangeStart) inline() {}
func (*RangeEnd) inline()   {}
func (*Reference) inline()  {}
func (*Opaque) inline()     {}

// Paragraph is an ordered sequence of inline nodes.
type Paragraph struct {
	Content []Inline
}

// NewParagraph builds a paragraph of plain runs, one per text.
func NewParagraph(texts ...string) *Paragraph {
	p := &Paragraph{Content: make([]Inline, 0, len(texts))}
	for _, t := range texts {
		p.Content = append(p.Content, &Run{Text: t})
	}
	return p
}

// Runs returns the paragraph's runs in order.
func (p *Paragraph) Runs() []*Run {
	var runs []*Run
	for _, in := range p.Content {
		if r, ok := in.(*Run); ok {
			runs = append(runs, r)
		}
	}
	return runs
}

// Text returns the concatenation of all run texts.
func (p *Paragraph) Text() string {
	var b strings.Builder
	for _, in := range p.Content {
		if r, ok := in.(*Run); ok {
			b.WriteString(r.Text)
		}
	}
	return b.String()
}

// IndexOf returns the position of in within Content, or -1.
func (p *Paragraph) IndexOf(in Inline) int {
	for i, c := range p.Content {
		if c == in {
			return i
		}
	}
	return -1
}

// Annotation is the metadata record of one comment.
type Annotation struct {
	ID       int       `json:"id"`
	Author   string    `json:"author"`
	Initials string    `json:"initials,omitempty"`
	Date     time.Time `json:"date"`
	Body     string    `json:"body"`

	// Raw is the record as it was serialized when loaded. Empty for records
	// created in memory.
	Raw string `json:"-"`
}

// MarkerCount tallies range markers for one annotation ID.
type MarkerCount struct {
	Starts     int
	Ends       int
	References int
}

// Document is an ordered sequence of paragraphs plus its annotation records.
type Document struct {
	Paragraphs  []*Paragraph
	Annotations []*Annotation
}

// Annotation returns the record with the given ID.
func (d *Document) Annotation(id int) (*Annotation, bool) {
	for _, a := range d.Annotations {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// AnnotationIDs returns the IDs of all records in ascending order.
func (d *Document) AnnotationIDs() []int {
	ids := make([]int, 0, len(d.Annotations))
	for _, a := range d.Annotations {
		ids = append(ids, a.ID)
	}
	sort.Ints(ids)
	return ids
}

// MarkerIDs counts the markers present in the run tree, keyed by ID.
func (d *Document) MarkerIDs() map[int]MarkerCount {
	counts := make(map[int]MarkerCount)
	for _, p := range d.Paragraphs {
		for _, in := range p.Content {
			switch m := in.(type) {
			case *RangeStart:
				c := counts[m.ID]
				c.Starts++
				counts[m.ID] = c
			case *RangeEnd:
				c := counts[m.ID]
				c.Ends++
				counts[m.ID] = c
			case *Reference:
				c := counts[m.ID]
				c.References++
				counts[m.ID] = c
			}
		}
	}
	return counts
}

// InUse reports whether id is held by a record or by any marker.
func (d *Document) InUse(id int) bool {
	if _, ok := d.Annotation(id); ok {
		return true
	}
	_, ok := d.MarkerIDs()[id]
	return ok
}

// NextAnnotationID returns the smallest non-negative integer not used by any
// annotation record or range marker.
func (d *Document) NextAnnotationID() int {
	used := make(map[int]bool, len(d.Annotations))
	for _, a := range d.Annotations {
		used[a.ID] = true
	}
	for id := range d.MarkerIDs() {
		used[id] = true
	}
	id := 0
	for used[id] {
		id++
	}
	return id
}

// AppendAnnotation appends a record. Existing records are left untouched.
func (d *Document) AppendAnnotation(a *Annotation) error {
	if a.ID < 0 {
		return errors.NewValidation("id", "annotation id must be non-negative")
	}
	if _, ok := d.Annotation(a.ID); ok {
		return &errors.IDCollisionError{ID: a.ID}
	}
	d.Annotations = append(d.Annotations, a)
	return nil
}

// Validate checks the marker/record pairing invariant: every ID referenced by
// a marker has exactly one record and matched start/end markers.
func (d *Document) Validate() error {
	seen := make(map[int]int, len(d.Annotations))
	for _, a := range d.Annotations {
		seen[a.ID]++
	}
	markers := d.MarkerIDs()
	ids := make([]int, 0, len(markers))
	for id := range markers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		c := markers[id]
		switch {
		case seen[id] == 0:
			return errors.NewInvariant("marker-record", -1, "markers for id %d have no annotation record", id)
		case seen[id] > 1:
			return errors.NewInvariant("marker-record", -1, "id %d has %d annotation records", id, seen[id])
		case c.Starts != c.Ends:
			return errors.NewInvariant("marker-pairing", -1, "id %d has %d start and %d end markers", id, c.Starts, c.Ends)
		}
	}
	return nil
}
