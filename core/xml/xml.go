// Package xml adapts antchfx/xmlquery trees to the small structural
// interface the annotation parser works against.
//
// Security Notes:
//   - XXE (External Entity) attacks are mitigated by xmlquery, which uses
//     Go's encoding/xml internally and never fetches external entities.
package xml

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/voc2coco/core/voc"
)

// Document represents a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node represents an XML element. It implements voc.Element.
type Node struct {
	node *xmlquery.Node
}

var _ voc.Element = (*Node)(nil)

// exprCache holds compiled child selectors keyed by tag name.
var exprCache sync.Map

// ParseReader parses XML from r and returns a Document.
func ParseReader(r io.Reader) (*Document, error) {
	root, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return &Document{root: root}, nil
}

// Root returns the root element of the document.
func (d *Document) Root() *Node {
	if d.root == nil {
		return nil
	}
	// Find the first element child
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return &Node{node: child}
		}
	}
	return nil
}

// XPath executes an XPath query and returns matching nodes.
func (d *Document) XPath(expr string) ([]*Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath: %w", err)
	}

	nodes := xmlquery.QuerySelectorAll(d.root, compiled)
	result := make([]*Node, len(nodes))
	for i, n := range nodes {
		result[i] = &Node{node: n}
	}
	return result, nil
}

// childSelector compiles (once) the relative XPath selecting element
// children named tag.
func childSelector(tag string) (*xpath.Expr, bool) {
	if cached, ok := exprCache.Load(tag); ok {
		return cached.(*xpath.Expr), true
	}
	if tag == "" || strings.ContainsAny(tag, "/[]()@*|:\"' \t\n") {
		return nil, false
	}
	expr, err := xpath.Compile(tag)
	if err != nil {
		return nil, false
	}
	exprCache.Store(tag, expr)
	return expr, true
}

// Name returns the element name.
func (n *Node) Name() string {
	if n.node == nil {
		return ""
	}
	return n.node.Data
}

// Text returns the text content of the node and its descendants.
func (n *Node) Text() string {
	if n.node == nil {
		return ""
	}
	return n.node.InnerText()
}

// FindChild returns the first child element named tag.
func (n *Node) FindChild(tag string) (voc.Element, bool) {
	if n.node == nil {
		return nil, false
	}
	expr, ok := childSelector(tag)
	if !ok {
		return nil, false
	}
	child := xmlquery.QuerySelector(n.node, expr)
	if child == nil {
		return nil, false
	}
	return &Node{node: child}, true
}

// TextOf returns the text of the first child element named tag.
func (n *Node) TextOf(tag string) (string, bool) {
	child, ok := n.FindChild(tag)
	if !ok {
		return "", false
	}
	return child.(*Node).Text(), true
}

// Children returns every child element named tag, in document order.
func (n *Node) Children(tag string) []voc.Element {
	if n.node == nil {
		return nil
	}
	expr, ok := childSelector(tag)
	if !ok {
		return nil
	}
	nodes := xmlquery.QuerySelectorAll(n.node, expr)
	children := make([]voc.Element, 0, len(nodes))
	for _, c := range nodes {
		if c.Type == xmlquery.ElementNode {
			children = append(children, &Node{node: c})
		}
	}
	return children
}
