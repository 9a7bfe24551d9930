package vivid

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Tree helpers over golang.org/x/net/html nodes. The parser lowercases
// attribute keys on HTML elements, so attribute lookups here compare
// case-insensitively and the markup vocabulary is matched in lower case.

func parseDocument(src string) (*html.Node, error) {
	return html.Parse(strings.NewReader(src))
}

// parseFragment parses src the way browsers parse element innerHTML, with
// a div context node.
func parseFragment(src string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(src), ctx)
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func renderNodes(ns []*html.Node) string {
	var buf bytes.Buffer
	for _, n := range ns {
		html.Render(&buf, n)
	}
	return buf.String()
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		html.Render(&buf, c)
	}
	return buf.String()
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, name, fallback string) string {
	if v, ok := getAttr(n, name); ok {
		return v
	}
	return fallback
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := getAttr(n, name)
	return ok
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && strings.EqualFold(n.Data, tag)
}

// findFirst returns the first node in document order satisfying pred.
func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every node in document order satisfying pred.
func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findBody(doc *html.Node) *html.Node {
	return findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// unwrap replaces n with its own children.
func unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for n.FirstChild != nil {
		child := n.FirstChild
		n.RemoveChild(child)
		parent.InsertBefore(child, n)
	}
	parent.RemoveChild(n)
}

// replaceWithNodes swaps n for the given parentless nodes.
func replaceWithNodes(n *html.Node, ns []*html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for _, repl := range ns {
		detach(repl)
		parent.InsertBefore(repl, n)
	}
	parent.RemoveChild(n)
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

// setChildrenFromHTML replaces n's children with the parsed fragment.
func setChildrenFromHTML(n *html.Node, src string) error {
	parsed, err := parseFragment(src)
	if err != nil {
		return err
	}
	removeChildren(n)
	for _, c := range parsed {
		detach(c)
		n.AppendChild(c)
	}
	return nil
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

func setTextContent(n *html.Node, s string) {
	removeChildren(n)
	if s != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
	}
}
