package main

import (
	"fmt"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/plan"
	"github.com/FocuswithJustin/docanchor/internal/pipeline"
	"github.com/FocuswithJustin/docanchor/internal/validation"
)

// ApplyCmd runs a plan over several documents.
type ApplyCmd struct {
	Plan      string   `arg:"" help:"Plan file (.plan DSL, .yaml or .json)" type:"existingfile"`
	Inputs    []string `arg:"" help:"Documents to annotate" type:"existingfile"`
	OutDir    string   `name:"out-dir" required:"" help:"Directory for annotated documents" type:"path"`
	Jobs      int      `short:"j" help:"Documents processed in parallel" default:"4"`
	KeepGoing bool     `name:"keep-going" short:"k" help:"Record failed entries and keep annotating"`
	Author    string   `help:"Default author for entries without one" env:"DOCANCHOR_AUTHOR"`
	JSON      bool     `help:"Print results as JSON"`
}

func (c *ApplyCmd) Run(g *Globals) error {
	if err := checkFile(c.Plan, validation.FileTypePlan, validation.FileTypeYAML, validation.FileTypeJSON, validation.FileTypeUnknown); err != nil {
		return err
	}
	for _, in := range c.Inputs {
		if err := checkFile(in, documentTypes...); err != nil {
			return err
		}
	}
	pl, err := plan.Load(c.Plan)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	p, closeFn, err := g.pipeline(ctx, pipeline.Options{
		Annotate:  annotate.Options{DefaultAuthor: c.Author},
		KeepGoing: c.KeepGoing,
	})
	if err != nil {
		return err
	}
	defer closeFn()

	outputs, runErr := p.ApplyPlan(ctx, pl, c.Inputs, c.OutDir, c.Jobs)

	if c.JSON {
		if err := g.printJSON(outputs); err != nil {
			return err
		}
		return runErr
	}

	attached, failed := 0, 0
	for _, o := range outputs {
		if o == nil {
			continue
		}
		g.printf("%s\n", o.Name)
		for _, oc := range o.Outcomes {
			g.printf("  %s\n", describe(oc))
		}
		if o.Path != "" {
			g.printf("  Wrote: %s\n", o.Path)
		}
		attached += o.Attached()
		failed += o.Failed()
	}
	g.printf("Summary: %d attached, %d failed across %d document(s)\n", attached, failed, len(c.Inputs))

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d plan entries failed", failed)
	}
	return nil
}
