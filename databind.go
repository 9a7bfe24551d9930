package vivid

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/livefir/vivid/internal/expr"
)

const (
	textTag        = "v-text"
	dataLoopIDAttr = "data-vivid-dataloop"
)

// renderable reports whether a node takes part in rendering. Nodes inside
// template copies or inside loops that still hold raw template source are
// left alone.
func renderable(n *html.Node) bool {
	return !insideTemplate(n) && !insideUnrenderedLoop(n)
}

// renderDataJS evaluates data-js expressions with self bound to the host
// element. Failures are logged and skipped.
func (d *Document) renderDataJS() {
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAttr(n, "data-js") && renderable(n)
	}) {
		code := attrOr(n, "data-js", "")
		if strings.TrimSpace(code) == "" {
			continue
		}
		d.state.Evaluate(code, map[string]interface{}{"self": newElementRef(n)})
	}
}

// renderInnerHTML replaces element content with the markup an expression
// evaluates to. Undefined and null render empty.
func (d *Document) renderInnerHTML() {
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAttr(n, "data-innerhtml") && renderable(n)
	}) {
		code := attrOr(n, "data-innerhtml", "")
		if strings.TrimSpace(code) == "" {
			continue
		}
		v, err := d.state.evaluate(code, nil)
		if err != nil {
			d.metric("eval_errors")
			d.logf("vivid: data-innerhtml %q: %v", code, err)
			setTextContent(n, "")
			continue
		}
		if v == nil || IsUndefined(v) {
			setTextContent(n, "")
			continue
		}
		if serr := setChildrenFromHTML(n, expr.ToString(v)); serr != nil {
			d.metric("authoring_errors")
			d.logf("vivid: data-innerhtml %q: %v", code, serr)
			removeChildren(n)
			n.AppendChild(errorNode("innerhtml", "%v", serr))
		}
	}
}

// renderDataLoops renders attribute-driven loops: containers whose
// data-loop attribute names an array expression. The row template comes
// from a <template id> named by data-template, or from the container's own
// children captured on first render. Rows replace the container children.
func (d *Document) renderDataLoops() {
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAttr(n, "data-loop") && renderable(n)
	}) {
		d.renderDataLoop(n)
	}
}

func (d *Document) renderDataLoop(n *html.Node) {
	arrayExpr := attrOr(n, "data-loop", "")

	var source string
	if tplID := attrOr(n, "data-template", ""); tplID != "" {
		tpl := findFirst(d.root, func(t *html.Node) bool {
			return t.Type == html.ElementNode && t.DataAtom == atom.Template && attrOr(t, "id", "") == tplID
		})
		if tpl == nil {
			d.metric("authoring_errors")
			d.logf("vivid: data-loop template %q not found", tplID)
			removeChildren(n)
			n.AppendChild(errorNode("data-loop", "missing template %q", tplID))
			return
		}
		source = renderChildren(tpl)
	} else {
		id := attrOr(n, dataLoopIDAttr, "")
		if id == "" {
			id = d.nextID("dataloop")
			setAttr(n, dataLoopIDAttr, id)
		}
		src, ok := d.dataLoopSrc[id]
		if !ok {
			src = renderChildren(n)
			d.dataLoopSrc[id] = src
		}
		source = src
	}
	if strings.TrimSpace(source) == "" {
		d.metric("authoring_errors")
		d.logf("vivid: data-loop has no row template")
		removeChildren(n)
		n.AppendChild(errorNode("data-loop", "missing row template"))
		return
	}

	items, ok := loopItems(d.state.Evaluate(arrayExpr, nil))
	if !ok {
		d.logf("vivid: data-loop %q did not evaluate to an array", arrayExpr)
		removeChildren(n)
		return
	}

	valueVar := attrOr(n, "data-value", "value")
	indexVar := attrOr(n, "data-index", "index")

	var out strings.Builder
	for i, item := range items {
		locals := map[string]interface{}{valueVar: item, indexVar: float64(i)}
		out.WriteString(d.state.RenderMustache(d.state.renderLocal(source, locals)))
	}
	if err := setChildrenFromHTML(n, out.String()); err != nil {
		d.metric("authoring_errors")
		d.logf("vivid: data-loop rows: %v", err)
		removeChildren(n)
		n.AppendChild(errorNode("data-loop", "%v", err))
		return
	}
	d.metric("loops_rendered")
}

// renderStates refreshes reactive text elements from their stateid
// expression. A non-empty scope limits the work to elements bound to that
// identifier.
func (d *Document) renderStates(scope string) {
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		if !isElement(n, textTag) || !renderable(n) {
			return false
		}
		if scope != "" && attrOr(n, "stateid", "") != scope {
			return false
		}
		return true
	}) {
		code := attrOr(n, "stateid", "")
		if strings.TrimSpace(code) == "" {
			d.metric("authoring_errors")
			d.logf("vivid: reactive text element without a stateid")
			continue
		}
		v := d.state.Evaluate(code, nil)
		if v == nil || IsUndefined(v) {
			setTextContent(n, "")
			continue
		}
		setTextContent(n, expr.ToString(v))
	}
}
