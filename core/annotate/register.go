package annotate

import (
	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/errors"
)

// Register wraps runs, which must all belong to p, with a fresh pair of range
// markers followed by a reference mark, then appends rec to doc under the
// new ID.
// Existing records are never touched. If the record cannot be appended the
// paragraph is restored.
func Register(doc *document.Document, p *document.Paragraph, runs []*document.Run, rec *document.Annotation) (int, error) {
	id := doc.NextAnnotationID()
	if err := register(doc, p, runs, rec, id); err != nil {
		return -1, err
	}
	return id, nil
}

func register(doc *document.Document, p *document.Paragraph, runs []*document.Run, rec *document.Annotation, id int) error {
	if len(runs) == 0 {
		return &errors.EmptyAttachmentTargetError{Paragraph: -1, Reason: "no runs to wrap"}
	}
	if doc.InUse(id) {
		return &errors.IDCollisionError{ID: id}
	}

	first, last := -1, -1
	for _, r := range runs {
		pos := p.IndexOf(r)
		if pos < 0 {
			return &errors.EmptyAttachmentTargetError{Paragraph: -1, Reason: "run does not belong to the paragraph"}
		}
		if first < 0 || pos < first {
			first = pos
		}
		if pos > last {
			last = pos
		}
	}

	previous := p.Content
	content := make([]document.Inline, 0, len(previous)+3)
	content = append(content, previous[:first]...)
	content = append(content, &document.RangeStart{ID: id})
	content = append(content, previous[first:last+1]...)
	content = append(content, &document.RangeEnd{ID: id}, &document.Reference{ID: id})
	content = append(content, previous[last+1:]...)
	p.Content = content

	rec.ID = id
	if err := doc.AppendAnnotation(rec); err != nil {
		p.Content = previous
		return err
	}
	return nil
}
