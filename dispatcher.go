package vivid

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RefreshOptions selects which categories of dynamic content a Refresh
// re-renders, and can narrow the refresh to a single loop, reactive text
// binding, or conditional region. The zero value renders nothing; start
// from DefaultRefreshOptions.
type RefreshOptions struct {
	LoopID  string `json:"loop_id,omitempty"`  // only the loop with this loopid
	StateID string `json:"state_id,omitempty"` // only reactive text bound to this stateid
	IfID    string `json:"if_id,omitempty"`    // only this conditional region

	ShowLoader bool `json:"show_loader,omitempty"`
	DataJS     bool `json:"data_js,omitempty"`
	InnerHTML  bool `json:"inner_html,omitempty"`
	Loops      bool `json:"loops,omitempty"`
	DataLoops  bool `json:"data_loops,omitempty"`
	Templates  bool `json:"templates,omitempty"` // include re-fetching, off by default
	Conditions bool `json:"conditions,omitempty"`
	States     bool `json:"states,omitempty"`
}

// DefaultRefreshOptions enables every category except include
// re-rendering, which refetches remote content and is opt-in per refresh.
func DefaultRefreshOptions() *RefreshOptions {
	return &RefreshOptions{
		ShowLoader: true,
		DataJS:     true,
		InnerHTML:  true,
		Loops:      true,
		DataLoops:  true,
		Templates:  false,
		Conditions: true,
		States:     true,
	}
}

// Refresh re-renders dynamic content from current state. A nil opts means
// DefaultRefreshOptions. When a scope identifier is set, only its target
// is refreshed, checked in the order LoopID, StateID, IfID. Otherwise the
// enabled categories run in a fixed order: element expressions first, then
// loops, then includes, then conditionals, then reactive text.
//
// State mutations performed by rendered expressions are batched; their
// watch callbacks fire after the refresh completes.
func (d *Document) Refresh(opts *RefreshOptions) {
	if opts == nil {
		opts = DefaultRefreshOptions()
	}
	if opts.ShowLoader {
		d.cfg.Indicator.Show()
		defer d.cfg.Indicator.Hide()
	}

	d.state.Batch(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed || d.root == nil {
			return
		}
		d.metric("refresh_cycles")

		switch {
		case opts.LoopID != "":
			d.renderLoops(opts.LoopID)
			return
		case opts.StateID != "":
			d.renderStates(opts.StateID)
			return
		case opts.IfID != "":
			d.renderConditions(opts.IfID)
			return
		}

		if opts.DataJS {
			d.renderDataJS()
		}
		if opts.InnerHTML {
			d.renderInnerHTML()
		}
		if opts.Loops {
			d.renderLoops("")
		}
		if opts.DataLoops {
			d.renderDataLoops()
		}
		if opts.Templates {
			d.renderIncludes()
		}
		if opts.Conditions {
			d.renderConditions("")
		}
		if opts.States {
			d.renderStates("")
		}
	})
}

// applyMustache substitutes global placeholders in text nodes and
// attribute values under root. Subtrees that still hold template source
// are skipped: template copies, loop elements, unresolved conditionals,
// and script/style bodies.
func (d *Document) applyMustache(root *html.Node) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Template,
				n.DataAtom == atom.Script,
				n.DataAtom == atom.Style,
				isElement(n, loopTag),
				isElement(n, ifTag),
				isElement(n, elseTag):
				return
			}
			for i := range n.Attr {
				n.Attr[i].Val = d.state.RenderMustache(n.Attr[i].Val)
			}
		}
		if n.Type == html.TextNode {
			n.Data = d.state.RenderMustache(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}
