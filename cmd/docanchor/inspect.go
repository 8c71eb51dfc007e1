package main

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/docanchor/core/docx"
)

// InspectCmd dumps a document's structure.
type InspectCmd struct {
	Input string `arg:"" help:"Document to inspect" type:"existingfile"`
	Check bool   `help:"Verify comment markers and records are consistent"`
	JSON  bool   `help:"Print the outline as JSON"`
}

func (c *InspectCmd) Run(g *Globals) error {
	if err := checkFile(c.Input, documentTypes...); err != nil {
		return err
	}
	pkg, err := docx.Open(c.Input)
	if err != nil {
		return err
	}
	outline := docx.Outline(pkg)

	if c.JSON {
		if err := g.printJSON(outline); err != nil {
			return err
		}
	} else {
		g.printf("Document: %s (%s)\n", c.Input, pkg.DocumentPart())
		g.printf("  Paragraphs: %d\n", len(outline))
		g.printf("  Comments: %d\n", len(pkg.Document().Annotations))
		g.printf("  Parts: %s\n", strings.Join(pkg.Parts(), ", "))
		for _, p := range outline {
			g.printf("\n[%d] %q\n", p.Index, p.Text)
			for _, it := range p.Items {
				g.printf("    %s\n", formatItem(it))
			}
		}
	}

	if c.Check {
		if err := pkg.Document().Validate(); err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		if !c.JSON {
			g.printf("\nCheck: OK\n")
		}
	}
	return nil
}

func formatItem(it docx.OutlineItem) string {
	switch it.Kind {
	case "run":
		return fmt.Sprintf("run %q", it.Text)
	case "start", "end", "reference":
		return fmt.Sprintf("%s id=%d", it.Kind, it.ID)
	case "opaque":
		return "opaque " + it.Element
	}
	return strings.ToUpper(it.Kind)
}
