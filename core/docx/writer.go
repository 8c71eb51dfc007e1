package docx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/encoding"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/xml"
)

// DefaultReferenceProps is the run formatting given to new comment
// reference marks.
const DefaultReferenceProps = `<w:rPr><w:rStyle w:val="CommentReference"/></w:rPr>`

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

// renderDocument returns the main document part, or nil when no paragraph
// changed.
func (p *Package) renderDocument() ([]byte, error) {
	dirty := 0
	rendered := make(map[xml.Node]string)
	for _, st := range p.paragraphs {
		markup := renderParagraph(st)
		if markup != st.clean {
			rendered[st.node] = markup
			dirty++
		}
	}
	if dirty == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	err := p.documentXML.RenderWith(&buf, func(n *xml.Node) (string, bool) {
		markup, ok := rendered[*n]
		return markup, ok
	})
	if err != nil {
		return nil, errors.NewIO("render", p.documentPart, err)
	}
	return buf.Bytes(), nil
}

func renderParagraph(st *paragraphState) string {
	var b strings.Builder
	b.WriteString("<w:p")
	for _, a := range st.attrs {
		writeAttr(&b, a.Name, a.Value)
	}
	b.WriteString(">")
	for _, in := range st.para.Content {
		renderInline(&b, in)
	}
	b.WriteString("</w:p>")
	return b.String()
}

func renderInline(b *strings.Builder, in document.Inline) {
	switch v := in.(type) {
	case *document.Run:
		openRun(b, v.Format)
		b.WriteString(v.Format.Props)
		renderText(b, v.Text)
		b.WriteString("</w:r>")
	case *document.RangeStart:
		fmt.Fprintf(b, `<w:commentRangeStart w:id="%d"/>`, v.ID)
	case *document.RangeEnd:
		fmt.Fprintf(b, `<w:commentRangeEnd w:id="%d"/>`, v.ID)
	case *document.Reference:
		openRun(b, v.Format)
		if v.Format.Props != "" {
			b.WriteString(v.Format.Props)
		} else {
			b.WriteString(DefaultReferenceProps)
		}
		fmt.Fprintf(b, `<w:commentReference w:id="%d"/>`, v.ID)
		b.WriteString("</w:r>")
	case *document.Opaque:
		b.WriteString(v.XML)
	}
}

func openRun(b *strings.Builder, f document.Formatting) {
	b.WriteString("<w:r")
	for _, a := range f.Attrs {
		writeAttr(b, a.Name, a.Value)
	}
	b.WriteString(">")
}

// renderText writes run text as w:t elements, turning tabs and line breaks
// back into w:tab and w:br.
func renderText(b *strings.Builder, text string) {
	text = encoding.SanitizeXMLText(encoding.NormalizeNewlines(text))
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '\t' && text[i] != '\n' {
			continue
		}
		writeT(b, text[start:i])
		if text[i] == '\t' {
			b.WriteString("<w:tab/>")
		} else {
			b.WriteString("<w:br/>")
		}
		start = i + 1
	}
	writeT(b, text[start:])
}

func writeT(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if needsPreserve(s) {
		b.WriteString(`<w:t xml:space="preserve">`)
	} else {
		b.WriteString("<w:t>")
	}
	b.WriteString(encoding.EscapeXMLText(s))
	b.WriteString("</w:t>")
}

func needsPreserve(s string) bool {
	return strings.TrimSpace(s) != s || strings.Contains(s, "  ")
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(`="`)
	b.WriteString(encoding.EscapeXMLAttr(value))
	b.WriteString(`"`)
}

// newAnnotations returns the records that were not loaded from the package.
func (p *Package) newAnnotations() []*document.Annotation {
	var out []*document.Annotation
	for _, a := range p.doc.Annotations {
		if !p.loaded[a] {
			out = append(out, a)
		}
	}
	return out
}

// renderComments returns the comments part, or nil when there are no new
// records.
func (p *Package) renderComments() ([]byte, error) {
	fresh := p.newAnnotations()
	if len(fresh) == 0 {
		return nil, nil
	}

	// parsed afresh so that repeated saves never accumulate records
	var (
		part *xml.Document
		err  error
	)
	if p.file(p.commentsPart) != nil {
		part, err = p.parsePart(p.commentsPart)
	} else {
		part, err = xml.Parse([]byte(xmlHeader + `<w:comments xmlns:w="` + NamespaceW + `"/>`))
	}
	if err != nil {
		return nil, errors.Wrap(err, "load comments part")
	}
	root := part.Root()
	if root == nil || !root.Is("w", "comments") {
		return nil, errors.NewParse("XML", p.commentsPart, "root element is not w:comments")
	}

	var b strings.Builder
	for _, a := range fresh {
		renderComment(&b, a)
	}
	if err := root.AppendXML(b.String()); err != nil {
		return nil, errors.Wrapf(err, "append comments to %s", p.commentsPart)
	}
	return part.Serialize(), nil
}

// renderComment writes one comment record. Each line of the body becomes a
// paragraph; the first carries the annotation reference mark.
func renderComment(b *strings.Builder, a *document.Annotation) {
	b.WriteString("<w:comment")
	writeAttr(b, "w:id", strconv.Itoa(a.ID))
	writeAttr(b, "w:author", encoding.SanitizeXMLText(a.Author))
	if !a.Date.IsZero() {
		writeAttr(b, "w:date", a.Date.UTC().Format(time.RFC3339))
	}
	if a.Initials != "" {
		writeAttr(b, "w:initials", encoding.SanitizeXMLText(a.Initials))
	}
	b.WriteString(">")

	lines := strings.Split(encoding.NormalizeNewlines(a.Body), "\n")
	for i, line := range lines {
		b.WriteString(`<w:p><w:pPr><w:pStyle w:val="CommentText"/></w:pPr>`)
		if i == 0 {
			b.WriteString(`<w:r>` + DefaultReferenceProps + `<w:annotationRef/></w:r>`)
		}
		if line != "" {
			b.WriteString("<w:r>")
			renderText(b, line)
			b.WriteString("</w:r>")
		}
		b.WriteString("</w:p>")
	}
	b.WriteString("</w:comment>")
}

// ensureContentType returns the content types part with an override for the
// comments part added, or nil when one is already declared.
func (p *Package) ensureContentType() ([]byte, error) {
	types, err := p.parsePart(ContentTypesPart)
	if err != nil {
		return nil, err
	}
	partName := "/" + p.commentsPart
	overrides, err := types.XPath("//*[local-name()='Override']")
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if strings.EqualFold(o.Attr("PartName"), partName) {
			return nil, nil
		}
	}

	root := types.Root()
	if root == nil {
		return nil, errors.NewParse("XML", ContentTypesPart, "missing Types element")
	}
	var b strings.Builder
	b.WriteString("<Override")
	writeAttr(&b, "PartName", partName)
	writeAttr(&b, "ContentType", CommentsContentType)
	b.WriteString("/>")
	if err := root.AppendXML(b.String()); err != nil {
		return nil, errors.Wrap(err, "add comments content type")
	}
	return types.Serialize(), nil
}

// ensureCommentsRelationship returns relsPart with a comments relationship
// added, or nil when one already exists.
func (p *Package) ensureCommentsRelationship(relsPart string) ([]byte, error) {
	var (
		rels *xml.Document
		err  error
	)
	if p.file(relsPart) != nil {
		rels, err = p.parsePart(relsPart)
	} else {
		rels, err = xml.Parse([]byte(xmlHeader + `<Relationships xmlns="` + NamespaceRelationships + `"/>`))
	}
	if err != nil {
		return nil, err
	}

	nodes, err := rels.XPath("//*[local-name()='Relationship']")
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Attr("Type") == RelComments {
			return nil, nil
		}
		used[n.Attr("Id")] = true
	}
	id := 1
	for used["rId"+strconv.Itoa(id)] {
		id++
	}

	target := strings.TrimPrefix(p.commentsPart, partDir(p.documentPart))
	var b strings.Builder
	b.WriteString("<Relationship")
	writeAttr(&b, "Id", "rId"+strconv.Itoa(id))
	writeAttr(&b, "Type", RelComments)
	writeAttr(&b, "Target", target)
	b.WriteString("/>")
	if err := rels.Root().AppendXML(b.String()); err != nil {
		return nil, errors.Wrap(err, "add comments relationship")
	}
	return rels.Serialize(), nil
}

// partDir returns the directory prefix of part including the trailing
// slash, e.g. "word/" for "word/document.xml".
func partDir(part string) string {
	if i := strings.LastIndex(part, "/"); i >= 0 {
		return part[:i+1]
	}
	return ""
}
