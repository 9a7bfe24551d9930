package vivid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
)

const (
	includeTag = "v-include"
	partIDAttr = "data-vivid-part"
	filledAttr = "data-vivid-filled"
)

// renderIncludes starts a fetch for every include element that needs one.
// Fetches run asynchronously; the body is applied when it arrives unless a
// newer refresh has superseded it. Scoped includes render once and are
// skipped after they are filled.
func (d *Document) renderIncludes() {
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		return isElement(n, includeTag) && renderable(n)
	}) {
		d.renderInclude(n)
	}
}

func (d *Document) renderInclude(n *html.Node) {
	if boolAttr(n, "scoped") && hasAttr(n, filledAttr) {
		return
	}
	ref := strings.TrimSpace(attrOr(n, "file", ""))
	if ref == "" {
		d.metric("authoring_errors")
		d.logf("vivid: include without a file reference")
		removeChildren(n)
		n.AppendChild(errorNode("include", "missing file reference"))
		return
	}
	id := attrOr(n, partIDAttr, "")
	if id == "" {
		id = d.nextID("part")
		setAttr(n, partIDAttr, id)
	}
	d.partGen[id]++
	gen := d.partGen[id]

	if body, ok := d.cfg.PartCache.Get(ref); ok {
		d.applyPartLocked(id, gen, ref, body, nil)
		return
	}

	d.cfg.Indicator.Show()
	d.fetchWG.Add(1)
	go func() {
		defer d.fetchWG.Done()
		defer d.cfg.Indicator.Hide()
		body, err := d.fetchPart(d.ctx, ref)
		d.state.Batch(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.applyPartLocked(id, gen, ref, body, err)
		})
	}()
}

// applyPartLocked installs a fetched body into its include element. Stale
// generations lose to the most recent refresh of the same element.
func (d *Document) applyPartLocked(id string, gen uint64, ref, body string, err error) {
	if d.closed || gen != d.partGen[id] {
		return
	}
	n := d.findPartLocked(id)
	if n == nil {
		return
	}
	if err != nil {
		d.metric("include_errors")
		d.logf("vivid: include %q: %v", ref, err)
		removeChildren(n)
		n.AppendChild(errorNode("include "+ref, "%v", err))
		return
	}
	if serr := setChildrenFromHTML(n, body); serr != nil {
		d.metric("authoring_errors")
		d.logf("vivid: include %q: %v", ref, serr)
		removeChildren(n)
		n.AppendChild(errorNode("include "+ref, "%v", serr))
		return
	}
	// only the winning generation may warm the cache, or a slow stale
	// fetch would overwrite a newer body
	d.cfg.PartCache.Put(ref, body)
	// fresh content can carry conditionals, loops, and placeholders
	d.resolveConditionalsIn(n)
	d.renderLoopsUnder(n, false)
	d.resolveConditionalsIn(n)
	d.applyMustache(n)
	setAttr(n, filledAttr, "")
	d.metric("includes_fetched")
}

func (d *Document) findPartLocked(id string) *html.Node {
	return findFirst(d.root, func(n *html.Node) bool {
		return isElement(n, includeTag) && attrOr(n, partIDAttr, "") == id
	})
}

// fetchPart loads one include body, decoding legacy charsets.
func (d *Document) fetchPart(ctx context.Context, ref string) (string, error) {
	rc, contentType, err := d.openPart(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	reader, err := charset.NewReader(rc, contentType)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", ref, err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", ref, err)
	}
	return string(raw), nil
}

func (d *Document) openPart(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	if d.cfg.Fetcher != nil {
		return d.cfg.Fetcher.Fetch(ctx, ref)
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := d.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, "", err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("fetch %s: %s", ref, resp.Status)
		}
		return resp.Body, resp.Header.Get("Content-Type"), nil
	}
	if d.cfg.FS != nil {
		f, err := d.cfg.FS.Open(path.Clean(strings.TrimPrefix(ref, "/")))
		if err != nil {
			return nil, "", err
		}
		return f, "", nil
	}
	// force the reference under BaseDir
	clean := filepath.Clean("/" + filepath.FromSlash(ref))
	f, err := os.Open(filepath.Join(d.cfg.BaseDir, clean))
	if err != nil {
		return nil, "", err
	}
	return f, "", nil
}

// PrefetchParts fetches every include reference in the document
// concurrently and warms the part cache. The elements themselves render on
// the next Templates refresh.
func (d *Document) PrefetchParts(ctx context.Context) error {
	d.mu.Lock()
	refs := make(map[string]bool)
	if d.root != nil {
		for _, n := range findAll(d.root, func(n *html.Node) bool {
			return isElement(n, includeTag)
		}) {
			if ref := strings.TrimSpace(attrOr(n, "file", "")); ref != "" {
				refs[ref] = true
			}
		}
	}
	d.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for ref := range refs {
		g.Go(func() error {
			if _, ok := d.cfg.PartCache.Get(ref); ok {
				return nil
			}
			body, err := d.fetchPart(ctx, ref)
			if err != nil {
				return err
			}
			d.cfg.PartCache.Put(ref, body)
			return nil
		})
	}
	return g.Wait()
}

// boolAttr treats attribute presence as true unless the value spells an
// explicit false.
func boolAttr(n *html.Node, name string) bool {
	v, ok := getAttr(n, name)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}
