// Package plan reads batch annotation plans.
//
// A plan lists the comments to attach to every input document. Plans are
// written either in a small statement language:
//
//	# reviewers' notes
//	annotate "quick brown fox" with "Needs citation" by "Reviewer" initials "RV";
//	annotate "lazy dog" with "Rephrase" strict;
//
// or as YAML with an entries list of the same fields.
package plan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/errors"
)

// Plan is an ordered list of annotation requests.
type Plan struct {
	Source  string  `yaml:"-"`
	Entries []Entry `yaml:"entries"`
}

// Entry is one planned comment.
type Entry struct {
	Target   string `yaml:"target"`
	Body     string `yaml:"body"`
	Author   string `yaml:"author,omitempty"`
	Initials string `yaml:"initials,omitempty"`
	Strict   bool   `yaml:"strict,omitempty"`
	// Line is the 1-based source line of the entry.
	Line int `yaml:"-"`
}

// Request converts e for annotate.Attach.
func (e Entry) Request() annotate.Request {
	return annotate.Request{
		Target:   e.Target,
		Body:     e.Body,
		Author:   e.Author,
		Initials: e.Initials,
		Strict:   e.Strict,
	}
}

// Requests converts every entry.
func (p *Plan) Requests() []annotate.Request {
	out := make([]annotate.Request, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Request()
	}
	return out
}

// Validate checks that every entry names a target.
func (p *Plan) Validate() error {
	if len(p.Entries) == 0 {
		return errors.NewValidation("plan", "no entries")
	}
	for i, e := range p.Entries {
		if e.Target == "" {
			return errors.NewValidation(entryField(i, e), "target must not be empty")
		}
	}
	return nil
}

func entryField(i int, e Entry) string {
	if e.Line > 0 {
		return fmt.Sprintf("entry %d (line %d)", i+1, e.Line)
	}
	return fmt.Sprintf("entry %d", i+1)
}

//nolint:govet // participle grammar tags are not standard struct tags
type planGrammar struct {
	Statements []*statement `@@*`
}

//nolint:govet // participle grammar tags are not standard struct tags
type statement struct {
	Pos     lexer.Position
	Target  string    `"annotate" @String`
	Body    string    `"with" @String`
	Clauses []*clause `@@* ";"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type clause struct {
	Pos      lexer.Position
	Author   *string `  "by" @String`
	Initials *string `| "initials" @String`
	Strict   bool    `| @"strict"`
}

var planLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\r\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\\r\n])*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `;`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

var planParser = participle.MustBuild[planGrammar](
	participle.Lexer(planLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
)

// Parse reads a plan written in the statement language.
func Parse(src string) (*Plan, error) {
	return parseNamed("", src)
}

func parseNamed(name, src string) (*Plan, error) {
	g, err := planParser.ParseString(name, src)
	if err != nil {
		return nil, errors.NewParse("plan", name, err.Error())
	}

	p := &Plan{Source: name}
	for _, st := range g.Statements {
		e := Entry{Target: st.Target, Body: st.Body, Line: st.Pos.Line}
		for _, c := range st.Clauses {
			switch {
			case c.Author != nil:
				if e.Author != "" {
					return nil, errors.NewParse("plan", name, fmt.Sprintf("%s: author given twice", c.Pos))
				}
				e.Author = *c.Author
			case c.Initials != nil:
				if e.Initials != "" {
					return nil, errors.NewParse("plan", name, fmt.Sprintf("%s: initials given twice", c.Pos))
				}
				e.Initials = *c.Initials
			case c.Strict:
				e.Strict = true
			}
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}

// ParseYAML reads a YAML plan. Unknown fields are rejected.
func ParseYAML(data []byte) (*Plan, error) {
	return parseYAMLNamed("", data)
}

func parseYAMLNamed(name string, data []byte) (*Plan, error) {
	p := &Plan{Source: name}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && err != io.EOF {
		return nil, errors.NewParse("yaml", name, err.Error())
	}

	// A second pass over the node tree recovers source lines.
	var lines struct {
		Entries []yaml.Node `yaml:"entries"`
	}
	if err := yaml.Unmarshal(data, &lines); err == nil && len(lines.Entries) == len(p.Entries) {
		for i, n := range lines.Entries {
			p.Entries[i].Line = n.Line
		}
	}
	p.Source = name
	return p, nil
}

// Load reads a plan file. Files ending in .yaml, .yml or .json are read as
// YAML; anything else as the statement language.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read plan", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return parseYAMLNamed(path, data)
	default:
		return parseNamed(path, string(data))
	}
}
