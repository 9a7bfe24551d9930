package vivid

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/livefir/vivid/internal/expr"
)

const (
	ifTag   = "v-if"
	elseTag = "v-else"

	// Resolution and nested-loop rendering both run in passes with the
	// same ceiling, which bounds badly authored fallback cycles.
	maxResolvePasses = 100
)

const (
	regionAnchorStart = "vivid-if:"
	regionAnchorEnd   = "/vivid-if:"
)

// ifRegion is a captured conditional chain. The source keeps the original
// if/else markup so the chain can be resolved again after earlier
// resolutions consumed the live nodes.
type ifRegion struct {
	id     string
	source string
}

// comparison operands in priority order; only the first present one on an
// if-node is honored
var conditionOps = [...]string{"eq", "neq", "gt", "lt", "gte", "lte"}

// captureConditionRegions records every top-level conditional run and
// wraps it in comment anchors so re-renders can locate it once the if/else
// nodes are gone. A run is the maximal stretch of sibling if-nodes and
// else-nodes around a conditional, since an else can precede the if that
// points at it. Runs once per parse, before any rendering.
func (d *Document) captureConditionRegions() {
	tops := findAll(d.root, func(n *html.Node) bool {
		return isElement(n, ifTag) && !insideTemplate(n) && !underConditionalOrLoop(n)
	})
	captured := make(map[*html.Node]bool)
	for _, n := range tops {
		if captured[n] || n.Parent == nil {
			continue
		}
		run := conditionRun(n)
		for _, c := range run {
			if isElement(c, ifTag) {
				captured[c] = true
			}
		}
		d.captureRegion(n, run)
	}
}

func (d *Document) captureRegion(ifNode *html.Node, run []*html.Node) {
	id := attrOr(ifNode, "ifid", "")
	if id == "" {
		id = d.nextID("if")
		setAttr(ifNode, "ifid", id)
	}
	if _, ok := d.regions[id]; ok {
		d.logf("vivid: duplicate ifid %q, keeping the first region", id)
		return
	}

	d.regions[id] = &ifRegion{id: id, source: renderNodes(run)}

	parent := ifNode.Parent
	first, last := run[0], run[len(run)-1]
	start := &html.Node{Type: html.CommentNode, Data: regionAnchorStart + id}
	end := &html.Node{Type: html.CommentNode, Data: regionAnchorEnd + id}
	parent.InsertBefore(start, first)
	if last.NextSibling != nil {
		parent.InsertBefore(end, last.NextSibling)
	} else {
		parent.AppendChild(end)
	}
}

// conditionRun returns the contiguous stretch of sibling conditional nodes
// containing n, in document order, keeping the whitespace between branches
// but not at the edges.
func conditionRun(n *html.Node) []*html.Node {
	partOfRun := func(s *html.Node) bool {
		return isElement(s, ifTag) || isElement(s, elseTag)
	}
	blank := func(s *html.Node) bool {
		return s.Type == html.TextNode && strings.TrimSpace(s.Data) == ""
	}

	first := n
	var pending []*html.Node
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if blank(sib) {
			pending = append(pending, sib)
			continue
		}
		if partOfRun(sib) {
			first = sib
			pending = pending[:0]
			continue
		}
		break
	}

	var nodes []*html.Node
	pending = pending[:0]
	for c := first; c != nil; c = c.NextSibling {
		if blank(c) {
			pending = append(pending, c)
			continue
		}
		if !partOfRun(c) {
			break
		}
		nodes = append(nodes, pending...)
		pending = pending[:0]
		nodes = append(nodes, c)
	}
	return nodes
}

func underConditionalOrLoop(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if isElement(p, ifTag) || isElement(p, elseTag) || isElement(p, loopTag) {
			return true
		}
	}
	return false
}

// renderConditions re-renders conditional regions from their captured
// sources and then resolves any conditionals living outside regions, such
// as those produced by loop output. A non-empty scope limits the work to
// one region.
func (d *Document) renderConditions(scope string) {
	if scope != "" {
		d.renderConditionRegion(scope)
		return
	}
	ids := make([]string, 0, len(d.regions))
	for id := range d.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d.renderConditionRegion(id)
	}
	d.resolveConditionalsIn(d.root)
}

func (d *Document) renderConditionRegion(id string) {
	region, ok := d.regions[id]
	if !ok {
		d.logf("vivid: no conditional region %q", id)
		return
	}
	start, end := d.findRegionAnchors(id)
	if start == nil {
		d.logf("vivid: conditional region %q anchors missing", id)
		return
	}

	parent := start.Parent
	for c := start.NextSibling; c != nil && c != end; {
		next := c.NextSibling
		parent.RemoveChild(c)
		c = next
	}
	kids := d.resolveRegionNodes(region.source)
	for _, k := range kids {
		parent.InsertBefore(k, end)
	}
	// loop elements revealed by the taken branch have not rendered yet
	for _, k := range kids {
		d.renderLoopsUnder(k, false)
	}
}

func (d *Document) findRegionAnchors(id string) (start, end *html.Node) {
	startData := regionAnchorStart + id
	endData := regionAnchorEnd + id
	start = findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.CommentNode && n.Data == startData
	})
	end = findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.CommentNode && n.Data == endData
	})
	if start == nil || end == nil || start.Parent == nil || start.Parent != end.Parent {
		return nil, nil
	}
	return start, end
}

// resolveRegionNodes resolves a captured chain in a scratch container and
// substitutes global placeholders in the surviving branch.
func (d *Document) resolveRegionNodes(source string) []*html.Node {
	kids, err := parseFragment(source)
	if err != nil {
		return []*html.Node{errorNode("condition", "%v", err)}
	}
	container := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	for _, k := range kids {
		container.AppendChild(k)
	}
	d.resolveConditionalsIn(container)
	d.applyMustache(container)
	return detachChildren(container)
}

// resolveConditionalsIn runs the pass loop over every conditional under
// container. Resolving one if-node can detach others, so attachment is
// rechecked before each resolution, and if-nodes nested in an unclaimed
// else wait for a later pass.
func (d *Document) resolveConditionalsIn(container *html.Node) {
	live := func(n *html.Node) bool {
		return isElement(n, ifTag) && !insideTemplate(n) && !insideUnrenderedLoop(n)
	}
	for pass := 0; pass < maxResolvePasses; pass++ {
		ifs := findAll(container, live)
		if len(ifs) == 0 {
			d.removeUnclaimedElses(container)
			return
		}
		progressed := false
		for _, ifNode := range ifs {
			if !attachedTo(ifNode, container) {
				continue
			}
			if deferredThisPass(ifNode, container) {
				continue
			}
			d.resolveIf(container, ifNode)
			progressed = true
		}
		if !progressed {
			d.metric("authoring_errors")
			d.logf("vivid: conditional resolution stalled on an unresolvable fallback chain")
			d.markUnresolved(container, live)
			return
		}
	}
	if len(findAll(container, live)) > 0 {
		d.metric("authoring_errors")
		d.logf("vivid: conditional resolution pass ceiling exceeded")
		d.markUnresolved(container, live)
	}
}

// removeUnclaimedElses drops else-nodes left over once every if-node has
// resolved. They are branches nothing claims, so the output must not show
// them.
func (d *Document) removeUnclaimedElses(container *html.Node) {
	for _, e := range findAll(container, func(n *html.Node) bool {
		return isElement(n, elseTag) && !insideTemplate(n) && !insideUnrenderedLoop(n)
	}) {
		if !attachedTo(e, container) {
			continue
		}
		d.logf("vivid: unclaimed fallback %q removed", attrOr(e, "elseid", ""))
		detach(e)
	}
}

func (d *Document) markUnresolved(container *html.Node, live func(*html.Node) bool) {
	for _, n := range findAll(container, live) {
		if !attachedTo(n, container) {
			continue
		}
		replaceWithNodes(n, []*html.Node{errorNode("condition", "unresolved conditional")})
	}
}

// deferredThisPass reports whether ifNode sits inside an else-node that a
// sibling if-node still points at. Resolving outside-in keeps deep chains
// correct.
func deferredThisPass(ifNode, container *html.Node) bool {
	for p := ifNode.Parent; p != nil && p != container; p = p.Parent {
		if !isElement(p, elseTag) {
			continue
		}
		elseID := attrOr(p, "elseid", "")
		if elseID == "" || p.Parent == nil {
			continue
		}
		for sib := p.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
			if sib != p && isElement(sib, ifTag) && attrOr(sib, "elseid", "") == elseID {
				return true
			}
		}
	}
	return false
}

// resolveIf replaces one if-node with the taken branch. True keeps the
// if-node's children and discards the matched else; false discards the
// if-node and keeps the matched else's children.
func (d *Document) resolveIf(container, ifNode *html.Node) {
	d.metric("conditionals_resolved")

	valueExpr := attrOr(ifNode, "value", "")
	if strings.TrimSpace(valueExpr) == "" {
		d.metric("authoring_errors")
		d.logf("vivid: conditional without a value expression dropped")
		detach(ifNode)
		return
	}

	truth := d.evalCondition(ifNode, valueExpr)
	elseID := attrOr(ifNode, "elseid", "")
	elseNode := findElseNode(container, ifNode, elseID)

	if truth {
		if elseNode != nil {
			detach(elseNode)
		}
		unwrap(ifNode)
		return
	}
	if elseNode != nil {
		detach(ifNode)
		unwrap(elseNode)
		return
	}
	if elseID != "" {
		d.metric("authoring_errors")
		d.logf("vivid: conditional fallback %q not found", elseID)
		replaceWithNodes(ifNode, []*html.Node{errorNode("condition", "missing fallback %q", elseID)})
		return
	}
	detach(ifNode)
}

// findElseNode prefers a direct sibling match so identifier collisions in
// looped content bind to the nearest chain, then falls back to a search of
// the whole container.
func findElseNode(container, ifNode *html.Node, elseID string) *html.Node {
	if elseID == "" {
		return nil
	}
	if ifNode.Parent != nil {
		for sib := ifNode.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
			if sib != ifNode && isElement(sib, elseTag) && attrOr(sib, "elseid", "") == elseID {
				return sib
			}
		}
	}
	return findFirst(container, func(n *html.Node) bool {
		return n != ifNode && isElement(n, elseTag) && attrOr(n, "elseid", "") == elseID
	})
}

// evalCondition evaluates the primary value once, then applies the first
// comparison operand present in priority order, falling back to truthiness
// when none is given. Evaluation errors resolve to false.
func (d *Document) evalCondition(ifNode *html.Node, valueExpr string) bool {
	v, err := d.state.evaluate(valueExpr, nil)
	if err != nil {
		d.metric("eval_errors")
		d.logf("vivid: condition %q: %v", valueExpr, err)
		return false
	}
	for _, op := range conditionOps {
		operandExpr, ok := getAttr(ifNode, op)
		if !ok {
			continue
		}
		operand, oerr := d.state.evaluate(operandExpr, nil)
		if oerr != nil {
			d.metric("eval_errors")
			d.logf("vivid: condition operand %q: %v", operandExpr, oerr)
			return false
		}
		switch op {
		case "eq":
			return expr.StrictEquals(v, operand)
		case "neq":
			return !expr.StrictEquals(v, operand)
		}
		cmp, ordered := expr.Compare(v, operand)
		if !ordered {
			return false
		}
		switch op {
		case "gt":
			return cmp > 0
		case "lt":
			return cmp < 0
		case "gte":
			return cmp >= 0
		case "lte":
			return cmp <= 0
		}
	}
	return expr.Truthy(v)
}

func insideUnrenderedLoop(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if isElement(p, loopTag) && !hasAttr(p, renderedAttr) {
			return true
		}
	}
	return false
}

func attachedTo(n, root *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func detachChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
		out = append(out, c)
	}
	return out
}
