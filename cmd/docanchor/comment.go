package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/docx"
	"github.com/FocuswithJustin/docanchor/internal/pipeline"
	"github.com/FocuswithJustin/docanchor/internal/validation"
)

// documentTypes are the file types accepted as word processing documents.
var documentTypes = []validation.FileType{validation.FileTypeDocx, validation.FileTypeZip}

// CommentAddCmd attaches one comment and writes the result to --out.
type CommentAddCmd struct {
	Input         string `arg:"" help:"Document to annotate" type:"existingfile"`
	Out           string `required:"" short:"o" help:"Output document path" type:"path"`
	Target        string `required:"" short:"t" help:"Text to anchor the comment to"`
	Body          string `required:"" short:"b" help:"Comment text"`
	Author        string `help:"Comment author" env:"DOCANCHOR_AUTHOR"`
	Initials      string `help:"Author initials (derived from the author when empty)"`
	Strict        bool   `help:"Fail instead of falling back to a whole paragraph"`
	MaxParagraphs int    `name:"max-paragraphs" help:"Only search the first N paragraphs (0 = all)"`
	JSON          bool   `help:"Print the result as JSON"`
}

func (c *CommentAddCmd) Run(g *Globals) error {
	if err := checkFile(c.Input, documentTypes...); err != nil {
		return err
	}
	ctx := context.Background()
	p, closeFn, err := g.pipeline(ctx, pipeline.Options{
		Annotate: annotate.Options{
			Strict:        c.Strict,
			MaxParagraphs: c.MaxParagraphs,
		},
	})
	if err != nil {
		return err
	}
	defer closeFn()

	req := annotate.Request{
		Target:   c.Target,
		Body:     c.Body,
		Author:   c.Author,
		Initials: c.Initials,
	}
	o, err := p.AnnotateFile(ctx, c.Input, c.Out, []annotate.Request{req})
	if err != nil {
		return err
	}

	if c.JSON {
		return g.printJSON(o)
	}
	g.printf("%s: %s\n", o.Name, describe(o.Outcomes[0]))
	g.printf("Wrote: %s\n", o.Path)
	if o.OutputSHA256 != "" {
		g.printf("  Snapshot: %s\n", o.OutputSHA256)
	}
	return nil
}

// CommentListCmd lists a document's comments.
type CommentListCmd struct {
	Input string `arg:"" help:"Document to read" type:"existingfile"`
	JSON  bool   `help:"Print comments as JSON"`
}

func (c *CommentListCmd) Run(g *Globals) error {
	if err := checkFile(c.Input, documentTypes...); err != nil {
		return err
	}
	pkg, err := docx.Open(c.Input)
	if err != nil {
		return err
	}
	comments := docx.Comments(pkg)

	if c.JSON {
		return g.printJSON(comments)
	}
	if len(comments) == 0 {
		g.printf("No comments in %s\n", c.Input)
		return nil
	}

	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAUTHOR\tPARAGRAPH\tANCHOR\tBODY")
	for _, cm := range comments {
		para := "-"
		if cm.Anchored {
			para = fmt.Sprint(cm.Paragraph)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%q\t%q\n", cm.ID, cm.Author, para, cm.Anchor, cm.Body)
	}
	return tw.Flush()
}
