// Command docanchor attaches review comments to word processing documents.
// It anchors each comment to a target substring, falls back to a whole
// paragraph when the target cannot be found, and keeps a journal and
// snapshots of every document it rewrites.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/cas"
	"github.com/FocuswithJustin/docanchor/core/journal"
	"github.com/FocuswithJustin/docanchor/internal/logging"
	"github.com/FocuswithJustin/docanchor/internal/pipeline"
	"github.com/FocuswithJustin/docanchor/internal/validation"
)

const version = "0.4.0"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"warn" enum:"debug,info,warn,error" env:"DOCANCHOR_LOG_LEVEL"`
	LogFormat string `name:"log-format" help:"Log format (text, json)" default:"text" enum:"text,json"`
	Store     string `help:"Snapshot store directory" default:".docanchor/store" type:"path" env:"DOCANCHOR_STORE"`
	Journal   string `help:"Journal database file" default:".docanchor/journal.db" type:"path" env:"DOCANCHOR_JOURNAL"`
	Ephemeral bool   `help:"Skip snapshots and the journal"`

	stdout io.Writer `kong:"-"`
}

// CLI defines the command-line interface for docanchor.
type CLI struct {
	Globals

	Comment CommentGroup `cmd:"" help:"Add and list comments"`
	Inspect InspectCmd   `cmd:"" help:"Dump the paragraph and run structure of a document"`
	Apply   ApplyCmd     `cmd:"" help:"Apply a plan of comments to several documents"`
	History HistoryCmd   `cmd:"" help:"Show journaled annotation attempts"`
	Restore RestoreCmd   `cmd:"" help:"Write a stored snapshot back to disk"`
	Serve   ServeCmd     `cmd:"" help:"Start the REST API server"`
	Version VersionCmd   `cmd:"" help:"Print version information"`
}

// CommentGroup contains comment operations.
type CommentGroup struct {
	Add  CommentAddCmd  `cmd:"" help:"Attach a comment to the first occurrence of a target"`
	List CommentListCmd `cmd:"" help:"List comments and the text they are anchored to"`
}

func (g *Globals) out() io.Writer {
	if g.stdout == nil {
		return os.Stdout
	}
	return g.stdout
}

func (g *Globals) printf(format string, args ...any) {
	fmt.Fprintf(g.out(), format, args...)
}

func (g *Globals) printJSON(v any) error {
	enc := json.NewEncoder(g.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (g *Globals) initLogging() error {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(g.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}

// openStorage opens the snapshot store and journal unless the run is
// ephemeral. The returned close function is never nil.
func (g *Globals) openStorage(ctx context.Context) (*cas.Store, *journal.Journal, func(), error) {
	if g.Ephemeral {
		return nil, nil, func() {}, nil
	}
	store, err := cas.NewStore(g.Store)
	if err != nil {
		return nil, nil, nil, err
	}
	j, err := journal.Open(ctx, g.Journal)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, j, func() { j.Close() }, nil
}

// pipeline builds a pipeline over the configured storage.
func (g *Globals) pipeline(ctx context.Context, opts pipeline.Options) (*pipeline.Pipeline, func(), error) {
	store, j, closeFn, err := g.openStorage(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts.Annotate.Logger = logging.GetLogger()
	return &pipeline.Pipeline{Store: store, Journal: j, Options: opts}, closeFn, nil
}

// checkFile verifies that path's content matches one of the wanted types.
func checkFile(path string, want ...validation.FileType) error {
	if err := validation.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid path %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := validation.ValidateFileType(f, path)
	if err != nil {
		return err
	}
	if !slices.Contains(want, got) {
		return fmt.Errorf("%s: expected %v, found %s", path, want, got)
	}
	return nil
}

// describe renders one outcome for humans.
func describe(oc pipeline.Outcome) string {
	if oc.Result == nil {
		return fmt.Sprintf("failed %q: %s", oc.Request.Target, oc.Error)
	}
	r := oc.Result
	if r.Mode == annotate.ModeFallback {
		return fmt.Sprintf("comment %d attached as FALLBACK to paragraph %d (target %q not found)",
			r.ID, r.Paragraph, oc.Request.Target)
	}
	return fmt.Sprintf("comment %d attached to paragraph %d: %q", r.ID, r.Paragraph, r.Quoted)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	g.printf("docanchor version %s\n", version)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("docanchor"),
		kong.Description("docanchor - anchored review comments for word processing documents"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Bind(&cli.Globals),
	)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	ctx.FatalIfErrorf(cli.initLogging())

	ctx.FatalIfErrorf(ctx.Run())
}
