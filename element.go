package vivid

import (
	"strings"

	"golang.org/x/net/html"
)

// ElementRef is the handle bound to the "self" identifier inside data-js
// expressions. Its methods are invoked through the expression evaluator, so
// they stick to string and bool parameters.
type ElementRef struct {
	node *html.Node
}

func newElementRef(n *html.Node) *ElementRef {
	return &ElementRef{node: n}
}

// TagName returns the lowercase tag name of the element.
func (e *ElementRef) TagName() string {
	return e.node.Data
}

// ID returns the value of the id attribute, or "" when absent.
func (e *ElementRef) ID() string {
	return attrOr(e.node, "id", "")
}

// Attr returns the value of the named attribute, or "" when absent.
func (e *ElementRef) Attr(name string) string {
	return attrOr(e.node, name, "")
}

// HasAttr reports whether the named attribute is present.
func (e *ElementRef) HasAttr(name string) bool {
	return hasAttr(e.node, name)
}

// SetAttr sets the named attribute, adding it when absent.
func (e *ElementRef) SetAttr(name, value string) {
	setAttr(e.node, name, value)
}

// RemoveAttr deletes the named attribute.
func (e *ElementRef) RemoveAttr(name string) {
	removeAttr(e.node, name)
}

// Text returns the concatenated text content of the element.
func (e *ElementRef) Text() string {
	return textContent(e.node)
}

// SetText replaces the element's children with a single text node.
func (e *ElementRef) SetText(s string) {
	setTextContent(e.node, s)
}

// HTML returns the serialized markup of the element's children.
func (e *ElementRef) HTML() string {
	return renderChildren(e.node)
}

// SetHTML parses src and replaces the element's children with the result.
// Malformed markup is reported through the error return.
func (e *ElementRef) SetHTML(src string) error {
	return setChildrenFromHTML(e.node, src)
}

// HasClass reports whether the class attribute contains the given class.
func (e *ElementRef) HasClass(class string) bool {
	for _, c := range strings.Fields(attrOr(e.node, "class", "")) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass appends a class to the class attribute unless already present.
func (e *ElementRef) AddClass(class string) {
	if class == "" || e.HasClass(class) {
		return
	}
	cur := attrOr(e.node, "class", "")
	if cur == "" {
		setAttr(e.node, "class", class)
		return
	}
	setAttr(e.node, "class", cur+" "+class)
}

// RemoveClass removes a class from the class attribute.
func (e *ElementRef) RemoveClass(class string) {
	fields := strings.Fields(attrOr(e.node, "class", ""))
	kept := fields[:0]
	for _, c := range fields {
		if c != class {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		removeAttr(e.node, "class")
		return
	}
	setAttr(e.node, "class", strings.Join(kept, " "))
}

// Toggle flips a boolean attribute such as hidden or disabled and reports
// the new presence state.
func (e *ElementRef) Toggle(name string) bool {
	if hasAttr(e.node, name) {
		removeAttr(e.node, name)
		return false
	}
	setAttr(e.node, name, "")
	return true
}
