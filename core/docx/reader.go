package docx

import (
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/xml"
)

// paragraphState ties a model paragraph to the element it was read from.
type paragraphState struct {
	node  xml.Node
	para  *document.Paragraph
	attrs []xml.Attr
	// clean is the rendering of the model as loaded. A paragraph whose
	// current rendering matches it is written back verbatim.
	clean string
}

// runChildren are the run children the model can represent as text.
var runChildren = map[string]bool{
	"rPr":                   true,
	"t":                     true,
	"tab":                   true,
	"br":                    true,
	"lastRenderedPageBreak": true,
}

func (p *Package) readBody() (*document.Document, error) {
	root := p.documentXML.Root()
	if root == nil || !root.Is("w", "document") {
		return nil, errors.NewParse("XML", p.documentPart, "root element is not w:document")
	}
	body := root.Child("w", "body")
	if body == nil {
		return nil, errors.NewParse("XML", p.documentPart, "missing w:body")
	}

	doc := &document.Document{}
	for _, n := range body.Children() {
		if !n.Is("w", "p") {
			continue
		}
		para := readParagraph(n)
		st := &paragraphState{node: *n, para: para, attrs: n.Attributes()}
		st.clean = renderParagraph(st)
		p.paragraphs = append(p.paragraphs, st)
		doc.Paragraphs = append(doc.Paragraphs, para)
	}
	return doc, nil
}

func readParagraph(n *xml.Node) *document.Paragraph {
	para := &document.Paragraph{}
	for _, child := range n.Children() {
		para.Content = append(para.Content, readInline(child))
	}
	return para
}

func readInline(n *xml.Node) document.Inline {
	switch {
	case n.Is("w", "r"):
		if run, ok := readRun(n); ok {
			return run
		}
		if ref, ok := readReference(n); ok {
			return ref
		}
	case n.Is("w", "commentRangeStart"):
		if id, ok := parseID(n.Attr("w:id")); ok && len(n.Attributes()) == 1 {
			return &document.RangeStart{ID: id}
		}
	case n.Is("w", "commentRangeEnd"):
		if id, ok := parseID(n.Attr("w:id")); ok && len(n.Attributes()) == 1 {
			return &document.RangeEnd{ID: id}
		}
	}
	return &document.Opaque{XML: n.OuterXML()}
}

// readRun maps a text run. Runs holding anything besides formatting and
// simple text content are left opaque.
func readRun(n *xml.Node) (*document.Run, bool) {
	var (
		text   strings.Builder
		format = runFormatting(n)
	)
	for _, child := range n.Children() {
		if child.Prefix() != "w" || !runChildren[child.Name()] {
			return nil, false
		}
		switch child.Name() {
		case "t":
			text.WriteString(child.Text())
		case "tab":
			text.WriteString("\t")
		case "br":
			if len(child.Attributes()) > 0 {
				// typed breaks (page, column) cannot be re-rendered from text
				return nil, false
			}
			text.WriteString("\n")
		}
	}
	return &document.Run{Text: text.String(), Format: format}, true
}

// readReference maps a run that carries only a comment reference mark.
func readReference(n *xml.Node) (*document.Reference, bool) {
	var ref *document.Reference
	for _, child := range n.Children() {
		switch {
		case child.Is("w", "rPr"):
		case child.Is("w", "commentReference") && ref == nil:
			id, ok := parseID(child.Attr("w:id"))
			if !ok || len(child.Attributes()) != 1 {
				return nil, false
			}
			ref = &document.Reference{ID: id, Format: runFormatting(n)}
		default:
			return nil, false
		}
	}
	return ref, ref != nil
}

func runFormatting(n *xml.Node) document.Formatting {
	var f document.Formatting
	if rPr := n.Child("w", "rPr"); rPr != nil {
		f.Props = rPr.OuterXML()
	}
	for _, a := range n.Attributes() {
		f.Attrs = append(f.Attrs, document.Attr{Name: a.Name, Value: a.Value})
	}
	return f
}

func parseID(s string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// readComments loads the records of the comments part. Records without a
// usable id stay in the part but are not exposed.
func (p *Package) readComments(part *xml.Document) {
	root := part.Root()
	if root == nil {
		return
	}
	for _, n := range root.Children() {
		if !n.Is("w", "comment") {
			continue
		}
		id, ok := parseID(n.Attr("w:id"))
		if !ok {
			continue
		}
		a := &document.Annotation{
			ID:       id,
			Author:   n.Attr("w:author"),
			Initials: n.Attr("w:initials"),
			Body:     commentBody(n),
			Raw:      n.OuterXML(),
		}
		if date := n.Attr("w:date"); date != "" {
			if t, err := time.Parse(time.RFC3339, date); err == nil {
				a.Date = t
			}
		}
		p.doc.Annotations = append(p.doc.Annotations, a)
		p.loaded[a] = true
	}
}

// commentBody joins the text of a comment's paragraphs with newlines.
func commentBody(n *xml.Node) string {
	paragraphs, err := n.XPath(".//w:p")
	if err != nil || len(paragraphs) == 0 {
		return n.Text()
	}
	lines := make([]string, 0, len(paragraphs))
	for _, para := range paragraphs {
		texts, _ := para.XPath(".//w:t")
		var b strings.Builder
		for _, t := range texts {
			b.WriteString(t.Text())
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}
