// Package annotate attaches comments to documents.
//
// Attach runs the full sequence for one comment: find the first paragraph
// containing the target, isolate the target into whole runs, then register
// the annotation around those runs. When no paragraph contains the target
// and fallback is allowed, the annotation wraps every run of the first
// non-blank paragraph instead, and the result says so.
//
// Attach is not safe for concurrent use on the same Document.
package annotate

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/isolate"
)

// Mode tells how an annotation was anchored.
type Mode int

const (
	// ModePrecise means the range covers exactly the target text.
	ModePrecise Mode = iota
	// ModeFallback means the range covers a whole paragraph.
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModePrecise:
		return "precise"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// MarshalText encodes the mode as its name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Request describes one comment to attach.
type Request struct {
	Target   string `json:"target" yaml:"target"`
	Body     string `json:"body" yaml:"body"`
	Author   string `json:"author,omitempty" yaml:"author,omitempty"`
	Initials string `json:"initials,omitempty" yaml:"initials,omitempty"`
	Strict   bool   `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Options tunes Attach.
type Options struct {
	// Strict disables the paragraph-level fallback for every request.
	Strict bool
	// MaxParagraphs bounds the number of paragraphs scanned. Zero means no bound.
	MaxParagraphs int
	// DefaultAuthor is used when a request has no author.
	DefaultAuthor string
	// Now returns the timestamp stored on new records. Defaults to time.Now.
	Now func() time.Time
	// Logger receives debug output. Nil disables logging.
	Logger *slog.Logger
}

// Result describes a successful attachment.
type Result struct {
	ID        int    `json:"id"`
	Mode      Mode   `json:"mode"`
	Paragraph int    `json:"paragraph"`
	Quoted    string `json:"quoted"`
	Runs      int    `json:"runs"`
	Splits    int    `json:"splits"`
}

// Fallback reports whether the annotation was attached to a whole paragraph.
func (r *Result) Fallback() bool {
	return r.Mode == ModeFallback
}

// Initials derives initials from an author name: the first two non-space
// characters, upper-cased. "J Smith" gives "JS".
func Initials(author string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(author) {
		if n == 2 {
			break
		}
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		n++
	}
	return b.String()
}

// Attach anchors one comment in doc.
func Attach(doc *document.Document, req Request, opts Options) (*Result, error) {
	if req.Target == "" {
		return nil, errors.NewValidation("target", "must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(doc.Paragraphs) == 0 {
		return nil, &errors.EmptyAttachmentTargetError{
			Target:    req.Target,
			Paragraph: -1,
			Reason:    "document has no paragraphs",
		}
	}

	rec := newRecord(req, opts)
	limit := len(doc.Paragraphs)
	if opts.MaxParagraphs > 0 && opts.MaxParagraphs < limit {
		limit = opts.MaxParagraphs
	}

	for i := 0; i < limit; i++ {
		p := doc.Paragraphs[i]
		if !strings.Contains(p.Text(), req.Target) {
			continue
		}

		logger.Debug("target located", "paragraph", i, "target", req.Target)
		split, err := isolate.Plan(p, req.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "isolate %q in paragraph %d", req.Target, i)
		}
		runs := split.Apply()
		id, err := Register(doc, p, runs, rec)
		if err != nil {
			return nil, errors.Wrapf(withParagraph(err, req.Target, i, false), "register %q in paragraph %d", req.Target, i)
		}
		if err := checkMarkers(doc, id, i); err != nil {
			return nil, err
		}
		return &Result{
			ID:        id,
			Mode:      ModePrecise,
			Paragraph: i,
			Quoted:    req.Target,
			Runs:      len(runs),
			Splits:    split.Splits(),
		}, nil
	}

	notFound := &errors.TargetNotFoundError{Target: req.Target, Scanned: limit, Paragraph: -1}
	if opts.Strict || req.Strict {
		return nil, notFound
	}
	logger.Debug("target not found, falling back to paragraph", "target", req.Target, "scanned", limit)

	i, p := fallbackParagraph(doc)
	if p == nil {
		return nil, &errors.EmptyAttachmentTargetError{
			Target:    req.Target,
			Paragraph: -1,
			Fallback:  true,
			Reason:    "no paragraph has text and runs",
		}
	}
	runs := p.Runs()
	id, err := Register(doc, p, runs, rec)
	if err != nil {
		return nil, errors.Wrapf(withParagraph(err, req.Target, i, true), "register fallback for %q in paragraph %d", req.Target, i)
	}
	if err := checkMarkers(doc, id, i); err != nil {
		return nil, err
	}
	return &Result{
		ID:        id,
		Mode:      ModeFallback,
		Paragraph: i,
		Quoted:    p.Text(),
		Runs:      len(runs),
	}, nil
}

func newRecord(req Request, opts Options) *document.Annotation {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	author := req.Author
	if author == "" {
		author = opts.DefaultAuthor
	}
	initials := req.Initials
	if initials == "" {
		initials = Initials(author)
	}
	return &document.Annotation{
		Author:   author,
		Initials: initials,
		Date:     now().UTC().Truncate(time.Second),
		Body:     req.Body,
	}
}

// fallbackParagraph returns the first paragraph with non-blank text and at
// least one run.
func fallbackParagraph(doc *document.Document) (int, *document.Paragraph) {
	for i, p := range doc.Paragraphs {
		if strings.TrimSpace(p.Text()) != "" && len(p.Runs()) > 0 {
			return i, p
		}
	}
	return -1, nil
}

// checkMarkers verifies the new ID has exactly one start and one end marker.
func checkMarkers(doc *document.Document, id, paragraph int) error {
	c := doc.MarkerIDs()[id]
	if c.Starts != 1 || c.Ends != 1 {
		return errors.NewInvariant("marker-pairing", paragraph, "id %d has %d start and %d end markers", id, c.Starts, c.Ends)
	}
	if _, ok := doc.Annotation(id); !ok {
		return errors.NewInvariant("marker-record", paragraph, "id %d has no annotation record", id)
	}
	return nil
}

// withParagraph fills in the target and paragraph on attachment errors.
func withParagraph(err error, target string, paragraph int, fallback bool) error {
	var empty *errors.EmptyAttachmentTargetError
	if errors.As(err, &empty) {
		empty.Target = target
		empty.Paragraph = paragraph
		empty.Fallback = fallback
	}
	return err
}
