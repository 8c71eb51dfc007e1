package docx

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/errors"
)

type part struct {
	name string
	body string
}

const (
	contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

	rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

	documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/></Relationships>`

	titleParagraph = `<w:p w:rsidR="001"><w:pPr><w:pStyle w:val="Title"/></w:pPr><w:r><w:t>Report</w:t></w:r></w:p>`
	foxParagraph   = `<w:p><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">The quick </w:t></w:r><w:r><w:t>brown</w:t></w:r><w:r><w:t xml:space="preserve"> fox jumps</w:t></w:r></w:p>`
	tabParagraph   = `<w:p><w:r><w:t>Col1</w:t><w:tab/><w:t>Col2</w:t><w:br/><w:t>next</w:t></w:r><w:bookmarkStart w:id="0" w:name="b"/></w:p>`

	commentedParagraph = `<w:p><w:commentRangeStart w:id="0"/><w:r><w:t>Report</w:t></w:r><w:commentRangeEnd w:id="0"/><w:r><w:rPr><w:rStyle w:val="CommentReference"/></w:rPr><w:commentReference w:id="0"/></w:r></w:p>`

	existingComment = `<w:comment w:id="0" w:author="Old" w:date="2025-05-01T10:00:00Z" w:initials="OL"><w:p><w:r><w:t>first line</w:t></w:r></w:p><w:p><w:r><w:t>second</w:t></w:r></w:p></w:comment>`
)

func documentXML(paragraphs ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><w:body>` +
		strings.Join(paragraphs, "\n") + `<w:sectPr/></w:body></w:document>`
}

func basicParts() []part {
	return []part{
		{ContentTypesPart, contentTypesXML},
		{RootRelsPart, rootRelsXML},
		{"word/document.xml", documentXML(titleParagraph, foxParagraph, tabParagraph)},
		{"word/_rels/document.xml.rels", documentRelsXML},
	}
}

func commentedParts() []part {
	types := strings.Replace(contentTypesXML, "</Types>",
		`<Override PartName="/word/comments.xml" ContentType="`+CommentsContentType+`"/></Types>`, 1)
	rels := strings.Replace(documentRelsXML, "</Relationships>",
		`<Relationship Id="rId7" Type="`+RelComments+`" Target="comments.xml"/></Relationships>`, 1)
	return []part{
		{ContentTypesPart, types},
		{RootRelsPart, rootRelsXML},
		{"word/document.xml", documentXML(commentedParagraph, foxParagraph)},
		{"word/_rels/document.xml.rels", rels},
		{"word/comments.xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:comments xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` + existingComment + `</w:comments>`},
	}
}

func buildDocx(t *testing.T, parts []part) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			t.Fatalf("Create(%s) error = %v", p.name, err)
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			t.Fatalf("write %s: %v", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func entries(t *testing.T, data []byte) ([]string, map[string]string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	var names []string
	contents := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open(%s) error = %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		names = append(names, f.Name)
		contents[f.Name] = string(body)
	}
	return names, contents
}

func mustRead(t *testing.T, data []byte) *Package {
	t.Helper()
	pkg, err := Read(data)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return pkg
}

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestReadModel(t *testing.T) {
	pkg := mustRead(t, buildDocx(t, basicParts()))
	doc := pkg.Document()

	if pkg.DocumentPart() != DefaultDocument || pkg.CommentsPart() != DefaultComments {
		t.Errorf("parts = %q, %q", pkg.DocumentPart(), pkg.CommentsPart())
	}
	if len(doc.Paragraphs) != 3 {
		t.Fatalf("len(Paragraphs) = %d, want 3", len(doc.Paragraphs))
	}

	texts := []string{"Report", "The quick brown fox jumps", "Col1\tCol2\nnext"}
	for i, want := range texts {
		if got := doc.Paragraphs[i].Text(); got != want {
			t.Errorf("paragraph %d text = %q, want %q", i, got, want)
		}
	}

	if _, ok := doc.Paragraphs[0].Content[0].(*document.Opaque); !ok {
		t.Errorf("pPr should be opaque, got %T", doc.Paragraphs[0].Content[0])
	}
	first := doc.Paragraphs[1].Runs()[0]
	if first.Format.Props != `<w:rPr><w:b/></w:rPr>` {
		t.Errorf("run formatting = %q", first.Format.Props)
	}
	bookmark, ok := doc.Paragraphs[2].Content[1].(*document.Opaque)
	if !ok || bookmark.XML != `<w:bookmarkStart w:id="0" w:name="b"/>` {
		t.Errorf("bookmark = %#v", doc.Paragraphs[2].Content[1])
	}
	if len(doc.Annotations) != 0 {
		t.Errorf("len(Annotations) = %d, want 0", len(doc.Annotations))
	}
}

func TestReadExistingComments(t *testing.T) {
	pkg := mustRead(t, buildDocx(t, commentedParts()))
	doc := pkg.Document()

	want := []string{"start", "run", "end", "reference"}
	var got []string
	for _, in := range doc.Paragraphs[0].Content {
		switch in.(type) {
		case *document.RangeStart:
			got = append(got, "start")
		case *document.RangeEnd:
			got = append(got, "end")
		case *document.Reference:
			got = append(got, "reference")
		case *document.Run:
			got = append(got, "run")
		default:
			got = append(got, "other")
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paragraph mismatch (-want +got):\n%s", diff)
	}

	rec, ok := doc.Annotation(0)
	if !ok {
		t.Fatal("comment 0 not loaded")
	}
	if rec.Author != "Old" || rec.Initials != "OL" || rec.Body != "first line\nsecond" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.Date.Equal(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", rec.Date)
	}
	if rec.Raw != existingComment {
		t.Errorf("Raw = %q", rec.Raw)
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if doc.NextAnnotationID() != 1 {
		t.Errorf("NextAnnotationID() = %d, want 1", doc.NextAnnotationID())
	}
}

func TestUnchangedRoundTrip(t *testing.T) {
	for name, parts := range map[string][]part{"basic": basicParts(), "commented": commentedParts()} {
		t.Run(name, func(t *testing.T) {
			src := buildDocx(t, parts)
			out, err := mustRead(t, src).Bytes()
			if err != nil {
				t.Fatalf("Bytes() error = %v", err)
			}
			srcNames, srcContents := entries(t, src)
			outNames, outContents := entries(t, out)
			if diff := cmp.Diff(srcNames, outNames); diff != "" {
				t.Errorf("entry order changed (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(srcContents, outContents); diff != "" {
				t.Errorf("entries changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnnotateAndSave(t *testing.T) {
	src := buildDocx(t, basicParts())
	pkg := mustRead(t, src)

	res, err := annotate.Attach(pkg.Document(), annotate.Request{
		Target: "brown fox",
		Body:   "Check this",
		Author: "Test Author",
	}, annotate.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if res.ID != 0 || res.Fallback() {
		t.Fatalf("Result = %+v", res)
	}

	out, err := pkg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	names, contents := entries(t, out)
	wantNames := []string{ContentTypesPart, RootRelsPart, "word/document.xml", "word/_rels/document.xml.rels", "word/comments.xml"}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	body := contents["word/document.xml"]
	if !strings.Contains(body, titleParagraph) || !strings.Contains(body, tabParagraph) {
		t.Error("untouched paragraphs were not written verbatim")
	}
	wantFox := `<w:p><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">The quick </w:t></w:r>` +
		`<w:commentRangeStart w:id="0"/><w:r><w:t>brown</w:t></w:r><w:r><w:t xml:space="preserve"> fox</w:t></w:r>` +
		`<w:commentRangeEnd w:id="0"/><w:r><w:rPr><w:rStyle w:val="CommentReference"/></w:rPr><w:commentReference w:id="0"/></w:r>` +
		`<w:r><w:t xml:space="preserve"> jumps</w:t></w:r></w:p>`
	if !strings.Contains(body, wantFox) {
		t.Errorf("annotated paragraph not found in:\n%s", body)
	}

	if !strings.Contains(contents[ContentTypesPart], `<Override PartName="/word/comments.xml" ContentType="`+CommentsContentType+`"/>`) {
		t.Errorf("content type override missing:\n%s", contents[ContentTypesPart])
	}
	if !strings.Contains(contents["word/_rels/document.xml.rels"], `<Relationship Id="rId2" Type="`+RelComments+`" Target="comments.xml"/>`) {
		t.Errorf("comments relationship missing:\n%s", contents["word/_rels/document.xml.rels"])
	}
	if contents[RootRelsPart] != rootRelsXML {
		t.Error("root relationships rewritten")
	}

	again := mustRead(t, out)
	comments := Comments(again)
	if len(comments) != 1 {
		t.Fatalf("len(Comments) = %d, want 1", len(comments))
	}
	c := comments[0]
	if c.Anchor != "brown fox" || c.Paragraph != 1 || !c.Anchored {
		t.Errorf("anchor = %q in paragraph %d (anchored %v)", c.Anchor, c.Paragraph, c.Anchored)
	}
	if c.Author != "Test Author" || c.Initials != "TE" || c.Body != "Check this" || !c.Date.Equal(fixedNow()) {
		t.Errorf("comment = %+v", c)
	}
	if got := again.Document().Paragraphs[1].Text(); got != "The quick brown fox jumps" {
		t.Errorf("paragraph text = %q", got)
	}
	if err := again.Document().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestAnnotatePreservesExistingComments(t *testing.T) {
	parts := commentedParts()
	src := buildDocx(t, parts)
	pkg := mustRead(t, src)

	res, err := annotate.Attach(pkg.Document(), annotate.Request{Target: "fox", Body: "second comment"}, annotate.Options{DefaultAuthor: "Bot", Now: fixedNow})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if res.ID != 1 {
		t.Errorf("ID = %d, want 1", res.ID)
	}

	out, err := pkg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	_, contents := entries(t, out)
	if !strings.Contains(contents["word/comments.xml"], existingComment+`<w:comment w:id="1" w:author="Bot"`) {
		t.Errorf("existing comment not preserved ahead of the new one:\n%s", contents["word/comments.xml"])
	}
	if contents[ContentTypesPart] != parts[0].body {
		t.Error("content types rewritten although the override exists")
	}
	if contents["word/_rels/document.xml.rels"] != parts[3].body {
		t.Error("relationships rewritten although the comments relationship exists")
	}
	if !strings.Contains(contents["word/document.xml"], commentedParagraph) {
		t.Error("previously commented paragraph changed")
	}

	got := Comments(mustRead(t, out))
	if len(got) != 2 || got[0].Anchor != "Report" || got[1].Anchor != "fox" {
		t.Errorf("Comments() = %+v", got)
	}
}

func TestMultiLineBodyAndTabs(t *testing.T) {
	pkg := mustRead(t, buildDocx(t, basicParts()))
	_, err := annotate.Attach(pkg.Document(), annotate.Request{Target: "Col2", Body: "line one\nline two"}, annotate.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	out, err := pkg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	again := mustRead(t, out)
	p := again.Document().Paragraphs[2]
	if got := p.Text(); got != "Col1\tCol2\nnext" {
		t.Errorf("paragraph text = %q", got)
	}
	if _, ok := p.Content[len(p.Content)-1].(*document.Opaque); !ok {
		t.Error("bookmark lost")
	}
	comments := Comments(again)
	if len(comments) != 1 || comments[0].Body != "line one\nline two" || comments[0].Anchor != "Col2" {
		t.Errorf("Comments() = %+v", comments)
	}
}

func TestCarriageReturnRunKept(t *testing.T) {
	crRun := `<w:r><w:t>a</w:t><w:cr/><w:t>b</w:t></w:r>`
	parts := basicParts()
	parts[2].body = documentXML(`<w:p>`+crRun+`</w:p>`, foxParagraph)
	pkg := mustRead(t, buildDocx(t, parts))

	if _, ok := pkg.Document().Paragraphs[0].Content[0].(*document.Opaque); !ok {
		t.Errorf("run with w:cr = %T, want opaque", pkg.Document().Paragraphs[0].Content[0])
	}
	if _, err := annotate.Attach(pkg.Document(), annotate.Request{Target: "brown", Body: "b"}, annotate.Options{Now: fixedNow}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	out, err := pkg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	_, contents := entries(t, out)
	body := contents["word/document.xml"]
	if !strings.Contains(body, crRun) {
		t.Errorf("carriage return run rewritten:\n%s", body)
	}
	if strings.Contains(body, "<w:br/>") {
		t.Errorf("carriage return turned into a line break:\n%s", body)
	}
}

func TestBytesIsRepeatable(t *testing.T) {
	pkg := mustRead(t, buildDocx(t, basicParts()))
	if _, err := annotate.Attach(pkg.Document(), annotate.Request{Target: "Report", Body: "b"}, annotate.Options{Now: fixedNow}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	first, err := pkg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	second, err := pkg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	_, a := entries(t, first)
	_, b := entries(t, second)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("second save differs (-first +second):\n%s", diff)
	}
}

func TestSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "in.docx")
	if err := os.WriteFile(filename, buildDocx(t, basicParts()), 0o600); err != nil {
		t.Fatal(err)
	}

	pkg, err := Open(filename)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := annotate.Attach(pkg.Document(), annotate.Request{Target: "quick", Body: "b"}, annotate.Options{}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := pkg.Save(filename); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := Open(filename)
	if err != nil {
		t.Fatalf("Open() after save error = %v", err)
	}
	if n := len(reopened.Document().Annotations); n != 1 {
		t.Errorf("len(Annotations) = %d, want 1", n)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".docanchor-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	if _, err := Open(filepath.Join(dir, "missing.docx")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) error = %v, want ErrNotExist", err)
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		want error
	}{
		{"not a zip", func(*testing.T) []byte { return []byte("plain text") }, errors.ErrInvalidInput},
		{"no document part", func(t *testing.T) []byte {
			return buildDocx(t, []part{{ContentTypesPart, contentTypesXML}})
		}, errors.ErrUnsupported},
		{"malformed document", func(t *testing.T) []byte {
			return buildDocx(t, []part{{"word/document.xml", "<w:document>"}})
		}, errors.ErrInvalidInput},
		{"wrong root", func(t *testing.T) []byte {
			return buildDocx(t, []part{{"word/document.xml", `<?xml version="1.0"?><root/>`}})
		}, errors.ErrInvalidInput},
		{"no body", func(t *testing.T) []byte {
			return buildDocx(t, []part{{"word/document.xml", `<w:document xmlns:w="` + NamespaceW + `"/>`}})
		}, errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.data(t))
			if !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		rels, target, want string
	}{
		{RootRelsPart, "word/document.xml", "word/document.xml"},
		{"word/_rels/document.xml.rels", "comments.xml", "word/comments.xml"},
		{"word/_rels/document.xml.rels", "/custom/notes.xml", "custom/notes.xml"},
		{"word/_rels/document.xml.rels", "../extra/c.xml", "extra/c.xml"},
	}
	for _, tt := range tests {
		if got := resolveTarget(tt.rels, tt.target); got != tt.want {
			t.Errorf("resolveTarget(%q, %q) = %q, want %q", tt.rels, tt.target, got, tt.want)
		}
	}
	if got := relsPartFor("word/document.xml"); got != "word/_rels/document.xml.rels" {
		t.Errorf("relsPartFor() = %q", got)
	}
}

func TestOutline(t *testing.T) {
	pkg := mustRead(t, buildDocx(t, commentedParts()))
	outline := Outline(pkg)
	if len(outline) != 2 {
		t.Fatalf("len(outline) = %d, want 2", len(outline))
	}
	want := []OutlineItem{
		{Kind: "start", ID: 0},
		{Kind: "run", Text: "Report"},
		{Kind: "end", ID: 0},
		{Kind: "reference", ID: 0},
	}
	if diff := cmp.Diff(want, outline[0].Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if outline[1].Runs != 3 || outline[1].Text != "The quick brown fox jumps" {
		t.Errorf("paragraph 1 = %+v", outline[1])
	}

	basic := Outline(mustRead(t, buildDocx(t, basicParts())))
	if got := basic[0].Items[0]; got.Kind != "opaque" || got.Element != "w:pPr" {
		t.Errorf("opaque item = %+v", got)
	}
}

func TestListCommentsUnanchored(t *testing.T) {
	doc := &document.Document{
		Paragraphs: []*document.Paragraph{
			{Content: []document.Inline{&document.RangeStart{ID: 3}, &document.Run{Text: "a"}}},
			{Content: []document.Inline{&document.Run{Text: "b"}, &document.RangeEnd{ID: 3}, &document.Run{Text: "c"}}},
		},
		Annotations: []*document.Annotation{{ID: 5, Body: "orphan"}, {ID: 3, Body: "spans"}},
	}
	got := ListComments(doc)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != 3 || got[0].Anchor != "a\nb" || got[0].Paragraph != 0 {
		t.Errorf("spanning comment = %+v", got[0])
	}
	if got[1].Anchored || got[1].Paragraph != -1 {
		t.Errorf("orphan comment = %+v", got[1])
	}
}
