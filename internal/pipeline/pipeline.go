// Package pipeline runs annotation requests against documents, snapshotting
// every input and output into the content-addressed store and recording each
// attempt in the journal.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/cas"
	"github.com/FocuswithJustin/docanchor/core/docx"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/journal"
	"github.com/FocuswithJustin/docanchor/core/plan"
	"github.com/FocuswithJustin/docanchor/internal/logging"
	"github.com/FocuswithJustin/docanchor/internal/validation"
)

// Event types.
const (
	EventAttached = "annotation.attached"
	EventFailed   = "annotation.failed"
	EventSaved    = "document.saved"
)

// Event reports progress to observers such as the websocket hub.
type Event struct {
	Type         string    `json:"type"`
	Time         time.Time `json:"time"`
	Batch        string    `json:"batch,omitempty"`
	Document     string    `json:"document"`
	Target       string    `json:"target,omitempty"`
	AnnotationID *int      `json:"annotation_id,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	Paragraph    *int      `json:"paragraph,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Options tunes a Pipeline.
type Options struct {
	Annotate annotate.Options
	// KeepGoing records failed requests and carries on with the rest. The
	// document is still written when at least one request succeeded.
	KeepGoing bool
}

// Pipeline wires the annotation core to storage. Store and Journal are
// optional. Notify, when set, must be safe for concurrent use.
type Pipeline struct {
	Store   *cas.Store
	Journal *journal.Journal
	Options Options
	Notify  func(Event)
}

// Outcome is the result of one request.
type Outcome struct {
	Request annotate.Request `json:"request"`
	Result  *annotate.Result `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	EntryID string           `json:"entry_id,omitempty"`
}

// Output describes one processed document.
type Output struct {
	Name         string    `json:"name"`
	Path         string    `json:"path,omitempty"`
	Batch        string    `json:"batch"`
	InputSHA256  string    `json:"input_sha256,omitempty"`
	OutputSHA256 string    `json:"output_sha256,omitempty"`
	Outcomes     []Outcome `json:"outcomes"`
	Error        string    `json:"error,omitempty"`
	Data         []byte    `json:"-"`
}

// Attached counts successful requests.
func (o *Output) Attached() int {
	n := 0
	for _, oc := range o.Outcomes {
		if oc.Result != nil {
			n++
		}
	}
	return n
}

// Failed counts failed requests.
func (o *Output) Failed() int {
	return len(o.Outcomes) - o.Attached()
}

// AnnotateBytes attaches reqs to the document in data and returns the
// rewritten package. name identifies the document in the journal.
func (p *Pipeline) AnnotateBytes(ctx context.Context, name string, data []byte, reqs []annotate.Request) (*Output, error) {
	return p.annotate(ctx, uuid.New().String(), name, data, reqs)
}

// AnnotateFile reads in, attaches reqs and writes the result to out.
func (p *Pipeline) AnnotateFile(ctx context.Context, in, out string, reqs []annotate.Request) (*Output, error) {
	return p.annotateFile(ctx, uuid.New().String(), in, out, reqs)
}

func (p *Pipeline) annotateFile(ctx context.Context, batch, in, out string, reqs []annotate.Request) (*Output, error) {
	for _, path := range []string{in, out} {
		if err := validation.ValidatePath(path); err != nil {
			return nil, errors.NewValidation("path", err.Error())
		}
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return nil, errors.NewIO("read", in, err)
	}

	o, err := p.annotate(ctx, batch, filepath.Base(in), data, reqs)
	if err != nil {
		return o, err
	}
	if err := docx.WriteFile(out, o.Data); err != nil {
		return o, err
	}
	o.Path = out
	return o, nil
}

func (p *Pipeline) annotate(ctx context.Context, batch, name string, data []byte, reqs []annotate.Request) (*Output, error) {
	if len(reqs) == 0 {
		return nil, errors.NewValidation("requests", "nothing to attach")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := &Output{Name: name, Batch: batch}

	pkg, err := docx.Read(data)
	if err != nil {
		return o, errors.Wrapf(err, "read %s", name)
	}
	if o.InputSHA256, err = p.snapshot(ctx, data); err != nil {
		return o, err
	}

	doc := pkg.Document()
	opts := p.Options.Annotate
	var firstErr error
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return o, err
		}
		oc := Outcome{Request: req}
		res, err := annotate.Attach(doc, req, opts)
		if err != nil {
			oc.Error = err.Error()
			logging.AnnotationFailed(ctx, name, req.Target, err, "batch", batch)
			p.notify(Event{Type: EventFailed, Batch: batch, Document: name, Target: req.Target, Error: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
		} else {
			oc.Result = res
			logging.AnnotationAttached(ctx, name, res.ID, res.Mode.String(), res.Paragraph, "batch", batch)
			p.notify(Event{Type: EventAttached, Batch: batch, Document: name, Target: req.Target,
				AnnotationID: &res.ID, Mode: res.Mode.String(), Paragraph: &res.Paragraph})
		}
		o.Outcomes = append(o.Outcomes, oc)
		if err != nil && !p.Options.KeepGoing {
			break
		}
	}

	if firstErr != nil && (!p.Options.KeepGoing || o.Attached() == 0) {
		if jerr := p.record(ctx, o, pkg); jerr != nil {
			return o, jerr
		}
		return o, firstErr
	}

	if o.Data, err = pkg.Bytes(); err != nil {
		return o, errors.Wrapf(err, "render %s", name)
	}
	if o.OutputSHA256, err = p.snapshot(ctx, o.Data); err != nil {
		return o, err
	}
	if err := p.record(ctx, o, pkg); err != nil {
		return o, err
	}
	p.notify(Event{Type: EventSaved, Batch: batch, Document: name, SHA256: o.OutputSHA256})
	return o, nil
}

// ApplyPlan runs every entry of pl against each input, writing results into
// outDir under the input's base name. Up to jobs documents are processed at
// once. Outputs are returned in input order; entries for documents that were
// not reached are nil.
//
// The first failing document stops the run unless Options.KeepGoing is set,
// in which case every document is attempted, each failure is kept in its
// Output.Error and the failures are returned joined.
func (p *Pipeline) ApplyPlan(ctx context.Context, pl *plan.Plan, inputs []string, outDir string, jobs int) ([]*Output, error) {
	if err := pl.Validate(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.NewValidation("inputs", "no documents given")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.NewIO("create output directory", outDir, err)
	}

	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		base := filepath.Base(in)
		if prev, dup := seen[base]; dup {
			return nil, errors.NewValidation("inputs", fmt.Sprintf("%s and %s would both be written to %s", prev, in, base))
		}
		seen[base] = in
	}

	if jobs <= 0 {
		jobs = 1
	}
	batch := uuid.New().String()
	reqs := pl.Requests()
	outputs := make([]*Output, len(inputs))
	failures := make([]error, len(inputs))

	var mu sync.Mutex
	g, gctx := &errgroup.Group{}, ctx
	if !p.Options.KeepGoing {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(jobs)
	for i, in := range inputs {
		g.Go(func() error {
			o, err := p.applyOne(gctx, batch, in, outDir, reqs)
			if err != nil {
				err = fmt.Errorf("%s: %w", in, err)
				if o != nil {
					o.Error = err.Error()
				}
			}
			mu.Lock()
			outputs[i] = o
			failures[i] = err
			mu.Unlock()
			if p.Options.KeepGoing {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return outputs, err
	}
	return outputs, stderrors.Join(failures...)
}

func (p *Pipeline) applyOne(ctx context.Context, batch, in, outDir string, reqs []annotate.Request) (*Output, error) {
	rel, err := validation.SanitizePath(outDir, filepath.Base(in))
	if err != nil {
		return nil, errors.NewValidation("input", err.Error())
	}
	return p.annotateFile(ctx, batch, in, filepath.Join(outDir, rel), reqs)
}

// snapshot stores data when a store is configured.
func (p *Pipeline) snapshot(ctx context.Context, data []byte) (string, error) {
	if p.Store == nil {
		return "", nil
	}
	d, err := p.Store.Put(data)
	if err != nil {
		return "", errors.Wrap(err, "snapshot")
	}
	logging.SnapshotStored(ctx, d.SHA256, d.Size)
	return d.SHA256, nil
}

// record writes one journal entry per outcome.
func (p *Pipeline) record(ctx context.Context, o *Output, pkg *docx.Package) error {
	if p.Journal == nil {
		return nil
	}
	doc := pkg.Document()
	for i := range o.Outcomes {
		oc := &o.Outcomes[i]
		e := &journal.Entry{
			Batch:        o.Batch,
			Document:     o.Name,
			Target:       oc.Request.Target,
			Author:       oc.Request.Author,
			Body:         oc.Request.Body,
			AnnotationID: -1,
			Paragraph:    -1,
			InputSHA256:  o.InputSHA256,
			OutputSHA256: o.OutputSHA256,
			Error:        oc.Error,
		}
		if r := oc.Result; r != nil {
			e.AnnotationID = r.ID
			e.Mode = r.Mode.String()
			e.Paragraph = r.Paragraph
			e.Fingerprint = journal.Fingerprint(doc.Paragraphs[r.Paragraph].Text())
			if e.Author == "" {
				if a, ok := doc.Annotation(r.ID); ok {
					e.Author = a.Author
				}
			}
		}
		if err := p.Journal.Record(ctx, e); err != nil {
			return err
		}
		oc.EntryID = e.ID
	}
	return nil
}

func (p *Pipeline) notify(ev Event) {
	if p.Notify == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	p.Notify(ev)
}
