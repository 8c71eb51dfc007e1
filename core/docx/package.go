// Package docx loads and saves WordprocessingML packages (.docx) and maps
// their main document part onto the run-based document model.
//
// Only what changed is rewritten. Zip entries that were not touched are
// copied as raw compressed bytes, body paragraphs whose model is unchanged
// are written exactly as they were read, and comment records that were
// loaded are kept as they are while new ones are appended.
package docx

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/FocuswithJustin/docanchor/core/document"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/xml"
)

// Well-known part names and relationship types.
const (
	ContentTypesPart = "[Content_Types].xml"
	RootRelsPart     = "_rels/.rels"
	DefaultDocument  = "word/document.xml"
	DefaultComments  = "word/comments.xml"

	RelOfficeDocument = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	RelComments       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/comments"

	CommentsContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.comments+xml"

	NamespaceW             = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	NamespaceContentTypes  = "http://schemas.openxmlformats.org/package/2006/content-types"
	NamespaceRelationships = "http://schemas.openxmlformats.org/package/2006/relationships"
)

// MaxPartSize bounds the uncompressed size of any single part read from a
// package.
const MaxPartSize = 256 << 20

// Package is an opened .docx file.
type Package struct {
	files []*zip.File

	documentPart string
	commentsPart string

	documentXML *xml.Document
	doc         *document.Document

	paragraphs []*paragraphState
	loaded     map[*document.Annotation]bool
}

// Open reads the package at path.
func Open(filename string) (*Package, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIO("read", filename, err)
	}
	pkg, err := Read(data)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	return pkg, nil
}

// Read parses a package held in memory. data must not be modified while the
// package is in use.
func Read(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NewParse("zip", "", err.Error())
	}

	pkg := &Package{
		files:  zr.File,
		loaded: make(map[*document.Annotation]bool),
	}

	pkg.documentPart, err = pkg.resolveDocumentPart()
	if err != nil {
		return nil, err
	}
	if pkg.file(pkg.documentPart) == nil {
		return nil, errors.NewUnsupported("package", "no main document part "+pkg.documentPart)
	}

	pkg.documentXML, err = pkg.parsePart(pkg.documentPart)
	if err != nil {
		return nil, err
	}
	pkg.doc, err = pkg.readBody()
	if err != nil {
		return nil, err
	}

	pkg.commentsPart, err = pkg.resolveCommentsPart()
	if err != nil {
		return nil, err
	}
	if pkg.file(pkg.commentsPart) != nil {
		comments, err := pkg.parsePart(pkg.commentsPart)
		if err != nil {
			return nil, err
		}
		pkg.readComments(comments)
	}

	return pkg, nil
}

// Document returns the model of the main document part. Mutations made to
// it are picked up by Bytes and Save.
func (p *Package) Document() *document.Document {
	return p.doc
}

// DocumentPart returns the name of the main document part.
func (p *Package) DocumentPart() string {
	return p.documentPart
}

// CommentsPart returns the name of the comments part, whether or not it
// exists yet.
func (p *Package) CommentsPart() string {
	return p.commentsPart
}

// Parts lists the zip entry names in archive order.
func (p *Package) Parts() []string {
	names := make([]string, len(p.files))
	for i, f := range p.files {
		names[i] = f.Name
	}
	return names
}

// Bytes serializes the package.
func (p *Package) Bytes() ([]byte, error) {
	rewritten, added, err := p.rewrittenParts()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	for _, f := range p.files {
		data, ok := rewritten[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return nil, errors.NewIO("copy part", f.Name, err)
			}
			continue
		}
		if err := writePart(zw, f.Name, data, &f.FileHeader); err != nil {
			return nil, err
		}
	}
	for _, name := range added {
		if err := writePart(zw, name, rewritten[name], nil); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.NewIO("finalize archive", "", err)
	}
	return buf.Bytes(), nil
}

// Save writes the package to filename, replacing it atomically.
func (p *Package) Save(filename string) error {
	data, err := p.Bytes()
	if err != nil {
		return err
	}
	return WriteFile(filename, data)
}

// WriteFile writes serialized package data to filename, replacing it
// atomically.
func WriteFile(filename string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".docanchor-*.docx")
	if err != nil {
		return errors.NewIO("create temp file for", filename, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewIO("write", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIO("close", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.NewIO("chmod", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.NewIO("rename", filename, err)
	}
	return nil
}

// rewrittenParts returns the serialized parts that differ from the archive,
// plus the names of parts that did not exist before, in write order.
func (p *Package) rewrittenParts() (map[string][]byte, []string, error) {
	parts := make(map[string][]byte)
	var added []string

	body, err := p.renderDocument()
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		parts[p.documentPart] = body
	}

	comments, err := p.renderComments()
	if err != nil {
		return nil, nil, err
	}
	if comments == nil {
		return parts, nil, nil
	}
	parts[p.commentsPart] = comments
	if p.file(p.commentsPart) == nil {
		added = append(added, p.commentsPart)
	}

	types, err := p.ensureContentType()
	if err != nil {
		return nil, nil, err
	}
	if types != nil {
		parts[ContentTypesPart] = types
	}

	relsPart := relsPartFor(p.documentPart)
	rels, err := p.ensureCommentsRelationship(relsPart)
	if err != nil {
		return nil, nil, err
	}
	if rels != nil {
		parts[relsPart] = rels
		if p.file(relsPart) == nil {
			added = append(added, relsPart)
		}
	}

	for name, data := range parts {
		if result := xml.Validate(data); !result.Valid {
			return nil, nil, errors.NewInvariant("well-formed-output", -1, "part %s: %s", name, result.Errors[0].String())
		}
	}
	return parts, added, nil
}

func writePart(zw *zip.Writer, name string, data []byte, original *zip.FileHeader) error {
	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if original != nil {
		header.Modified = original.Modified
		header.Comment = original.Comment
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return errors.NewIO("create part", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.NewIO("write part", name, err)
	}
	return nil
}

func (p *Package) file(name string) *zip.File {
	for _, f := range p.files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (p *Package) readPart(name string) ([]byte, error) {
	f := p.file(name)
	if f == nil {
		return nil, errors.NewNotFound("part", name)
	}
	if f.UncompressedSize64 > MaxPartSize {
		return nil, errors.NewUnsupported("part size", name+" exceeds the part size limit")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.NewParse("zip", name, "cannot open entry: "+err.Error())
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxPartSize+1))
	if err != nil {
		return nil, errors.NewParse("zip", name, "cannot read entry: "+err.Error())
	}
	if len(data) > MaxPartSize {
		return nil, errors.NewUnsupported("part size", name+" exceeds the part size limit")
	}
	return data, nil
}

func (p *Package) parsePart(name string) (*xml.Document, error) {
	data, err := p.readPart(name)
	if err != nil {
		return nil, err
	}
	doc, err := xml.Parse(data)
	if err != nil {
		return nil, errors.NewParse("XML", name, err.Error())
	}
	return doc, nil
}

// resolveDocumentPart follows the package's officeDocument relationship,
// falling back to the conventional location.
func (p *Package) resolveDocumentPart() (string, error) {
	target, err := p.relationshipTarget(RootRelsPart, RelOfficeDocument)
	if err != nil {
		return "", err
	}
	if target == "" {
		return DefaultDocument, nil
	}
	return target, nil
}

func (p *Package) resolveCommentsPart() (string, error) {
	target, err := p.relationshipTarget(relsPartFor(p.documentPart), RelComments)
	if err != nil {
		return "", err
	}
	if target == "" {
		return path.Join(path.Dir(p.documentPart), "comments.xml"), nil
	}
	return target, nil
}

// relationshipTarget returns the resolved target of the first relationship
// of the given type in relsPart, or "" when there is none.
func (p *Package) relationshipTarget(relsPart, relType string) (string, error) {
	if p.file(relsPart) == nil {
		return "", nil
	}
	rels, err := p.parsePart(relsPart)
	if err != nil {
		return "", err
	}
	nodes, err := rels.XPath("//*[local-name()='Relationship']")
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if n.Attr("Type") != relType || n.Attr("TargetMode") == "External" {
			continue
		}
		return resolveTarget(relsPart, n.Attr("Target")), nil
	}
	return "", nil
}

// relsPartFor returns the relationships part that belongs to part, e.g.
// word/_rels/document.xml.rels for word/document.xml.
func relsPartFor(part string) string {
	return path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
}

// resolveTarget resolves a relationship target relative to the source part
// the relationships part describes.
func resolveTarget(relsPart, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	// word/_rels/document.xml.rels describes parts relative to word/
	base := path.Dir(path.Dir(relsPart))
	return strings.TrimPrefix(path.Join(base, target), "/")
}
