package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/FocuswithJustin/docanchor/core/cas"
	"github.com/FocuswithJustin/docanchor/core/docx"
	"github.com/FocuswithJustin/docanchor/core/journal"
	"github.com/FocuswithJustin/docanchor/internal/validation"
)

// HistoryCmd lists journal entries, newest first.
type HistoryCmd struct {
	Document string        `help:"Only entries for this document name"`
	Batch    string        `help:"Only entries from this batch"`
	Failed   bool          `help:"Only failed attempts"`
	Since    time.Duration `help:"Only entries newer than this (e.g. 24h)"`
	Limit    int           `short:"n" help:"Maximum entries to show" default:"20"`
	JSON     bool          `help:"Print entries as JSON"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	ctx := context.Background()
	j, err := journal.Open(ctx, g.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	f := journal.Filter{
		Document: c.Document,
		Batch:    c.Batch,
		Failed:   c.Failed,
		Limit:    c.Limit,
	}
	if c.Since > 0 {
		f.Since = time.Now().Add(-c.Since)
	}
	entries, err := j.List(ctx, f)
	if err != nil {
		return err
	}

	if c.JSON {
		if entries == nil {
			entries = []*journal.Entry{}
		}
		return g.printJSON(entries)
	}
	if len(entries) == 0 {
		g.printf("No journal entries\n")
		return nil
	}

	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDOCUMENT\tTARGET\tRESULT\tSNAPSHOT")
	for _, e := range entries {
		result := fmt.Sprintf("#%d %s p%d", e.AnnotationID, e.Mode, e.Paragraph)
		if e.Failed() {
			result = "FAILED: " + e.Error
		}
		snap := "-"
		if len(e.OutputSHA256) >= 12 {
			snap = e.OutputSHA256[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%q\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Document, e.Target, result, snap)
	}
	return tw.Flush()
}

// RestoreCmd writes a snapshot from the store to disk.
type RestoreCmd struct {
	Hash string `arg:"" help:"SHA-256 or BLAKE3 digest of the snapshot"`
	Out  string `required:"" short:"o" help:"Output document path" type:"path"`
}

func (c *RestoreCmd) Run(g *Globals) error {
	if err := validation.ValidatePath(c.Out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	store, err := cas.NewStore(g.Store)
	if err != nil {
		return err
	}
	sha, err := store.Resolve(c.Hash)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", c.Hash, err)
	}
	data, err := store.Get(sha)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", c.Hash, err)
	}
	if err := docx.WriteFile(c.Out, data); err != nil {
		return err
	}
	g.printf("Restored %s (%d bytes) to %s\n", sha, len(data), c.Out)
	return nil
}
