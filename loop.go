package vivid

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/livefir/vivid/internal/expr"
)

const (
	loopTag          = "v-for"
	loopTemplateAttr = "data-vivid-loop"
	renderedAttr     = "data-vivid-rendered"
)

// renderLoops renders loop elements. With an empty scope every loop in the
// document is re-rendered; otherwise only loops whose loopid matches scope,
// plus any fresh nested loops their output produced. Rendering runs in
// passes because loop output can itself contain loop elements.
func (d *Document) renderLoops(scope string) {
	if scope == "" {
		d.renderLoopsUnder(d.root, true)
		return
	}
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		return isElement(n, loopTag) && attrOr(n, "loopid", "") == scope && !insideTemplate(n)
	}) {
		d.renderLoop(n)
		d.renderLoopsUnder(n, false)
	}
}

func (d *Document) renderLoopsUnder(root *html.Node, includeRendered bool) {
	visited := make(map[*html.Node]bool)
	for pass := 0; pass < maxResolvePasses; pass++ {
		candidates := findAll(root, func(n *html.Node) bool {
			if !isElement(n, loopTag) || visited[n] || insideTemplate(n) {
				return false
			}
			if !includeRendered && hasAttr(n, renderedAttr) {
				return false
			}
			return true
		})
		if len(candidates) == 0 {
			return
		}
		for _, n := range candidates {
			visited[n] = true
			d.renderLoop(n)
		}
	}
}

// renderLoop renders one loop element in place. The template is read from
// the element's tagged <template> child when present (re-render) or from
// the element's own children (first render). After rendering, an unrendered
// copy of the template is re-appended so later renders can re-read it.
func (d *Document) renderLoop(n *html.Node) {
	id := attrOr(n, "loopid", "")
	if id == "" {
		id = d.nextID("loop")
		setAttr(n, "loopid", id)
	}

	source, err := loopSource(n)
	if err != nil {
		d.metric("authoring_errors")
		d.logf("vivid: loop %q: %v", id, err)
		removeChildren(n)
		n.AppendChild(errorNode("loop "+id, "%v", err))
		// an empty captured template keeps later renders from reading the
		// marker text back as the loop body
		n.AppendChild(newLoopTemplate(id, ""))
		return
	}

	valueVar := attrOr(n, "valuevar", "value")
	indexVar := attrOr(n, "indexvar", "index")

	var out strings.Builder
	renderItem := func(item interface{}, index float64) {
		locals := map[string]interface{}{valueVar: item, indexVar: index}
		out.WriteString(d.state.RenderMustache(d.state.renderLocal(source, locals)))
	}

	arrayAttr := attrOr(n, "array", "")
	stepAttr := attrOr(n, "step", "")

	var items []interface{}
	haveArray := false
	if arrayAttr != "" {
		items, haveArray = loopItems(d.state.Evaluate(arrayAttr, nil))
	}

	switch {
	case haveArray:
		stride := 1
		if stepAttr != "" {
			sv := expr.ToNumber(d.state.Evaluate(stepAttr, nil))
			switch {
			case math.IsNaN(sv) || sv == 0:
				d.logf("vivid: loop %q: step %q yields no iterations", id, stepAttr)
				stride = 0
			case sv < 0:
				// negative steps only apply to numeric ranges
				d.logf("vivid: loop %q: negative step over an array, using 1", id)
			default:
				stride = int(sv)
				if stride < 1 {
					stride = 1
				}
			}
		}
		if stride > 0 {
			for i := 0; i < len(items); i += stride {
				renderItem(items[i], float64(i))
			}
		}
	case hasAttr(n, "start") && hasAttr(n, "end"):
		start := expr.ToNumber(d.state.Evaluate(attrOr(n, "start", ""), nil))
		end := expr.ToNumber(d.state.Evaluate(attrOr(n, "end", ""), nil))
		step := 1.0
		if stepAttr != "" {
			step = expr.ToNumber(d.state.Evaluate(stepAttr, nil))
		}
		idx := 0.0
		switch {
		case math.IsNaN(start) || math.IsNaN(end) || math.IsNaN(step):
			d.logf("vivid: loop %q: non-numeric range bounds, rendering zero iterations", id)
		case step == 0:
			d.logf("vivid: loop %q: zero step, rendering zero iterations", id)
		case step > 0:
			for v := start; v <= end; v += step {
				renderItem(v, idx)
				idx++
			}
		default:
			for v := start; v >= end; v += step {
				renderItem(v, idx)
				idx++
			}
		}
	default:
		// neither array nor numeric range resolvable, zero iterations
	}

	kids, perr := parseFragment(out.String())
	if perr != nil {
		d.metric("authoring_errors")
		d.logf("vivid: loop %q: %v", id, perr)
		removeChildren(n)
		n.AppendChild(errorNode("loop "+id, "%v", perr))
		n.AppendChild(newLoopTemplate(id, source))
		return
	}
	removeChildren(n)
	for _, k := range kids {
		n.AppendChild(k)
	}
	n.AppendChild(newLoopTemplate(id, source))
	setAttr(n, renderedAttr, "")
	d.metric("loops_rendered")
}

// loopSource returns the template markup for a loop element.
func loopSource(n *html.Node) (string, error) {
	if tpl := loopTemplateChild(n); tpl != nil {
		if src := renderChildren(tpl); strings.TrimSpace(src) != "" {
			return src, nil
		}
		return "", fmt.Errorf("captured template is empty")
	}
	if src := renderChildren(n); strings.TrimSpace(src) != "" {
		return src, nil
	}
	return "", fmt.Errorf("missing loop template")
}

func loopTemplateChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template && hasAttr(c, loopTemplateAttr) {
			return c
		}
	}
	return nil
}

func newLoopTemplate(id, source string) *html.Node {
	tpl := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Template,
		Data:     "template",
		Attr:     []html.Attribute{{Key: loopTemplateAttr, Val: id}},
	}
	kids, err := parseFragment(source)
	if err != nil {
		tpl.AppendChild(&html.Node{Type: html.TextNode, Data: source})
		return tpl
	}
	for _, k := range kids {
		tpl.AppendChild(k)
	}
	return tpl
}

func insideTemplate(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Template {
			return true
		}
	}
	return false
}

// loopItems extracts the elements of an array-valued loop source.
func loopItems(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case *TrackedList:
		items := make([]interface{}, t.Len())
		for i := range items {
			items[i] = t.Index(i)
		}
		return items, true
	case []interface{}:
		return t, true
	}
	if expr.IsUndefined(v) {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, true
	}
	return nil, false
}
