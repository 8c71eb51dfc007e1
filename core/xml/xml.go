// Package xml provides pure Go XML parsing, validation, XPath and faithful
// re-serialization of OOXML parts.
//
// Security Notes:
//   - XXE (External Entity) attacks are mitigated by using Go's xml.Decoder
//     which doesn't fetch external entities by default, and we explicitly
//     disable custom entity expansion when parsing and validating.
//   - The xmlquery library is used for parsing, which uses Go's encoding/xml
//     internally and inherits its security properties.
package xml

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/FocuswithJustin/docanchor/core/encoding"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Document represents a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node represents an XML node (element, text, comment, etc.).
// Node values compare equal when they wrap the same underlying node, so they
// can be used as map keys.
type Node struct {
	node *xmlquery.Node
}

// Attr is one attribute in document order. Name carries the prefix as
// written, e.g. "w:id" or "xmlns:w".
type Attr struct {
	Name  string
	Value string
}

// ValidationResult contains the result of XML validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Line    int
	Column  int
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Replacer is consulted for every element during RenderWith. Returning ok
// substitutes the element (including its children) with the returned markup.
type Replacer func(n *Node) (markup string, ok bool)

// Parse parses XML data and returns a Document.
func Parse(data []byte) (*Document, error) {
	root, err := xmlquery.ParseWithOptions(bytes.NewReader(data), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{
			Strict: true,
			// XXE Protection (CWE-611)
			Entity: map[string]string{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return &Document{root: root}, nil
}

// Validate checks that data is well-formed XML.
func Validate(data []byte) ValidationResult {
	result := ValidationResult{Valid: true}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	// XXE Protection (CWE-611): Disable entity expansion to prevent XXE attacks.
	decoder.Entity = map[string]string{}

	for {
		_, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, col := decoder.InputPos()
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Line:    line,
				Column:  col,
				Message: err.Error(),
			})
			break
		}
	}

	return result
}

// Root returns the root element of the document.
func (d *Document) Root() *Node {
	if d.root == nil {
		return nil
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return &Node{node: child}
		}
	}
	return nil
}

// XPath executes an XPath query and returns matching nodes.
func (d *Document) XPath(expr string) ([]*Node, error) {
	return query(d.root, expr)
}

// XPathFirst executes an XPath query and returns the first matching node.
func (d *Document) XPathFirst(expr string) (*Node, error) {
	return queryFirst(d.root, expr)
}

// Serialize converts the document back to XML bytes. Text and attribute
// values are written exactly as parsed, whitespace included.
func (d *Document) Serialize() []byte {
	if d.root == nil {
		return nil
	}
	var buf bytes.Buffer
	_ = writeNode(&buf, d.root, nil)
	return buf.Bytes()
}

// RenderWith writes the document to w, letting replace substitute elements.
// Elements replace declines are written unchanged and their children are
// visited in turn.
func (d *Document) RenderWith(w io.Writer, replace Replacer) error {
	if d.root == nil {
		return nil
	}
	bw := bufio.NewWriter(w)
	if err := writeNode(bw, d.root, replace); err != nil {
		return err
	}
	return bw.Flush()
}

func query(top *xmlquery.Node, expr string) ([]*Node, error) {
	// Compile first so syntax errors are reported instead of panicking.
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath: %w", err)
	}
	nodes := xmlquery.QuerySelectorAll(top, compiled)
	result := make([]*Node, len(nodes))
	for i, n := range nodes {
		result[i] = &Node{node: n}
	}
	return result, nil
}

func queryFirst(top *xmlquery.Node, expr string) (*Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath: %w", err)
	}
	n := xmlquery.QuerySelector(top, compiled)
	if n == nil {
		return nil, nil
	}
	return &Node{node: n}, nil
}

// stringWriter is satisfied by bytes.Buffer, bufio.Writer and strings.Builder.
type stringWriter interface {
	io.Writer
	io.StringWriter
}

func writeNode(w stringWriter, n *xmlquery.Node, replace Replacer) error {
	switch n.Type {
	case xmlquery.DocumentNode:
		return writeChildren(w, n, replace)

	case xmlquery.DeclarationNode:
		w.WriteString("<?")
		w.WriteString(n.Data)
		for _, attr := range n.Attr {
			writeAttr(w, attr)
		}
		_, err := w.WriteString("?>")
		return err

	case xmlquery.ProcessingInstruction:
		if n.ProcInst != nil && n.ProcInst.Inst != "" {
			_, err := fmt.Fprintf(w, "<?%s %s?>", n.ProcInst.Target, n.ProcInst.Inst)
			return err
		}
		_, err := fmt.Fprintf(w, "<?%s?>", n.Data)
		return err

	case xmlquery.ElementNode:
		if replace != nil {
			if markup, ok := replace(&Node{node: n}); ok {
				_, err := w.WriteString(markup)
				return err
			}
		}
		name := qualifiedName(n)
		w.WriteString("<")
		w.WriteString(name)
		for _, attr := range n.Attr {
			writeAttr(w, attr)
		}
		if n.FirstChild == nil {
			_, err := w.WriteString("/>")
			return err
		}
		w.WriteString(">")
		if err := writeChildren(w, n, replace); err != nil {
			return err
		}
		w.WriteString("</")
		w.WriteString(name)
		_, err := w.WriteString(">")
		return err

	case xmlquery.TextNode:
		_, err := w.WriteString(encoding.EscapeXMLText(n.Data))
		return err

	case xmlquery.CharDataNode:
		_, err := fmt.Fprintf(w, "<![CDATA[%s]]>", n.Data)
		return err

	case xmlquery.CommentNode:
		_, err := fmt.Fprintf(w, "<!--%s-->", n.Data)
		return err

	case xmlquery.NotationNode:
		_, err := fmt.Fprintf(w, "<!%s>", n.Data)
		return err
	}
	return nil
}

func writeChildren(w stringWriter, n *xmlquery.Node, replace Replacer) error {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if err := writeNode(w, child, replace); err != nil {
			return err
		}
	}
	return nil
}

func writeAttr(w stringWriter, attr xmlquery.Attr) {
	w.WriteString(" ")
	w.WriteString(attrName(attr))
	w.WriteString(`="`)
	w.WriteString(encoding.EscapeXMLAttr(attr.Value))
	w.WriteString(`"`)
}

func attrName(attr xmlquery.Attr) string {
	if attr.Name.Space != "" {
		return attr.Name.Space + ":" + attr.Name.Local
	}
	return attr.Name.Local
}

func qualifiedName(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}

// Name returns the local element name.
func (n *Node) Name() string {
	if n.node == nil {
		return ""
	}
	return n.node.Data
}

// Prefix returns the namespace prefix as written in the source.
func (n *Node) Prefix() string {
	if n.node == nil {
		return ""
	}
	return n.node.Prefix
}

// QName returns the prefixed element name, e.g. "w:p".
func (n *Node) QName() string {
	if n.node == nil {
		return ""
	}
	return qualifiedName(n.node)
}

// Namespace returns the namespace URI of the element.
func (n *Node) Namespace() string {
	if n.node == nil {
		return ""
	}
	return n.node.NamespaceURI
}

// Is reports whether n is an element with the given prefix and local name.
func (n *Node) Is(prefix, local string) bool {
	return n.IsElement() && n.node.Prefix == prefix && n.node.Data == local
}

// IsElement reports whether n is an element.
func (n *Node) IsElement() bool {
	return n.node != nil && n.node.Type == xmlquery.ElementNode
}

// IsText reports whether n is character data.
func (n *Node) IsText() bool {
	return n.node != nil && (n.node.Type == xmlquery.TextNode || n.node.Type == xmlquery.CharDataNode)
}

// Data returns the raw character data of a text node.
func (n *Node) Data() string {
	if n.node == nil {
		return ""
	}
	return n.node.Data
}

// Text returns the text content of the node.
func (n *Node) Text() string {
	return n.InnerText()
}

// InnerText returns all text content of the node and its descendants.
func (n *Node) InnerText() string {
	if n.node == nil {
		return ""
	}
	return n.node.InnerText()
}

// InnerXML returns the inner XML of the node.
func (n *Node) InnerXML() string {
	if n.node == nil {
		return ""
	}
	var b strings.Builder
	_ = writeChildren(&b, n.node, nil)
	return b.String()
}

// OuterXML returns the node including its own tags.
func (n *Node) OuterXML() string {
	if n.node == nil {
		return ""
	}
	var b strings.Builder
	_ = writeNode(&b, n.node, nil)
	return b.String()
}

// Parent returns the parent node, or nil at the top.
func (n *Node) Parent() *Node {
	if n.node == nil || n.node.Parent == nil {
		return nil
	}
	return &Node{node: n.node.Parent}
}

// Children returns the child element nodes.
func (n *Node) Children() []*Node {
	if n.node == nil {
		return nil
	}

	var children []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			children = append(children, &Node{node: child})
		}
	}
	return children
}

// ChildNodes returns every child node, text and comments included.
func (n *Node) ChildNodes() []*Node {
	if n.node == nil {
		return nil
	}
	var children []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		children = append(children, &Node{node: child})
	}
	return children
}

// Child returns the first child element with the given prefix and local name.
func (n *Node) Child(prefix, local string) *Node {
	for _, c := range n.Children() {
		if c.Is(prefix, local) {
			return c
		}
	}
	return nil
}

// Attributes returns the attributes in document order.
func (n *Node) Attributes() []Attr {
	if n.node == nil {
		return nil
	}
	attrs := make([]Attr, len(n.node.Attr))
	for i, attr := range n.node.Attr {
		attrs[i] = Attr{Name: attrName(attr), Value: attr.Value}
	}
	return attrs
}

// Attr returns the value of a specific attribute, e.g. "w:id".
func (n *Node) Attr(name string) string {
	if n.node == nil {
		return ""
	}
	return n.node.SelectAttr(name)
}

// HasAttr reports whether the attribute is present.
func (n *Node) HasAttr(name string) bool {
	if n.node == nil {
		return false
	}
	return n.node.HasAttr(name)
}

// XPath runs a query relative to n.
func (n *Node) XPath(expr string) ([]*Node, error) {
	if n.node == nil {
		return nil, nil
	}
	return query(n.node, expr)
}

// Remove detaches n from its document.
func (n *Node) Remove() {
	if n.node != nil {
		xmlquery.RemoveFromTree(n.node)
	}
}

// AppendXML parses fragment and appends its top-level nodes as children of
// n. The fragment may use any prefix declared on n or its ancestors.
func (n *Node) AppendXML(fragment string) error {
	if n.node == nil {
		return fmt.Errorf("append to empty node")
	}
	parsed, err := parseFragment(n.node, fragment)
	if err != nil {
		return err
	}
	for _, child := range parsed {
		xmlquery.AddChild(n.node, child)
	}
	return nil
}

// parseFragment parses fragment inside a wrapper that re-declares every
// namespace visible at n.
func parseFragment(n *xmlquery.Node, fragment string) ([]*xmlquery.Node, error) {
	var b strings.Builder
	b.WriteString("<fragment")
	seen := map[string]bool{}
	for cur := n; cur != nil; cur = cur.Parent {
		for _, attr := range cur.Attr {
			if (attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns")) && !seen[attrName(attr)] {
				seen[attrName(attr)] = true
				writeAttr(&b, attr)
			}
		}
	}
	b.WriteString(">")
	b.WriteString(fragment)
	b.WriteString("</fragment>")

	doc, err := Parse([]byte(b.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	wrapper := doc.Root()
	if wrapper == nil {
		return nil, fmt.Errorf("parsing fragment: no content")
	}
	var out []*xmlquery.Node
	for child := wrapper.node.FirstChild; child != nil; {
		next := child.NextSibling
		xmlquery.RemoveFromTree(child)
		out = append(out, child)
		child = next
	}
	return out, nil
}
