package vivid

import (
	"errors"
	"fmt"

	"golang.org/x/net/html"
)

// ErrSelfMutation is returned by tracked mutators and State.Set when the
// write targets the variable whose notification callback is currently
// executing. Completing the write would re-schedule the same callback
// forever, so it fails instead.
var ErrSelfMutation = errors.New("self-mutation inside active notification")

// ErrClosed is returned by operations on a Document whose Close has run.
var ErrClosed = errors.New("document closed")

// errorMarker formats the inline marker that replaces a broken region.
// Authoring mistakes degrade to this text instead of blanking the page.
func errorMarker(component, format string, args ...interface{}) string {
	return fmt.Sprintf("❌ %s: %s", component, fmt.Sprintf(format, args...))
}

// errorNode builds a text node carrying an inline error marker.
func errorNode(component, format string, args ...interface{}) *html.Node {
	return &html.Node{
		Type: html.TextNode,
		Data: errorMarker(component, format, args...),
	}
}
