package vivid

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func quietOpts(extra ...Option) []Option {
	opts := []Option{WithLogger(log.New(io.Discard, "", 0))}
	return append(opts, extra...)
}

// newTestDoc parses markup without rendering, so each test drives Refresh
// itself.
func newTestDoc(t *testing.T, st *State, src string, extra ...Option) *Document {
	t.Helper()
	if st == nil {
		st = NewState()
	}
	d := New(st, quietOpts(extra...)...)
	if err := d.Parse(src); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

// liveTexts returns the text content of every rendered tag element, in
// document order, skipping captured template copies.
func liveTexts(d *Document, tag string) []string {
	var out []string
	for _, n := range findAll(d.root, func(n *html.Node) bool {
		return isElement(n, tag) && !insideTemplate(n)
	}) {
		out = append(out, textContent(n))
	}
	return out
}

func findLive(d *Document, tag string) *html.Node {
	return findFirst(d.root, func(n *html.Node) bool {
		return isElement(n, tag) && !insideTemplate(n)
	})
}

func TestMountRendersFullDocument(t *testing.T) {
	st := quietState()
	st.Watch("title", nopWatch, "Inbox")
	st.Watch("fruits", nopWatch, []interface{}{"Apple", "Banana"})

	d := New(st, quietOpts()...)
	err := d.Mount(`<html><body>
		<h1>{{title}}</h1>
		<ul><v-for loopid="fruits" array="fruits"><li>${value}</li></v-for></ul>
		<v-text stateid="title"></v-text>
	</body></html>`)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	body := d.BodyHTML()
	if !strings.Contains(body, "<h1>Inbox</h1>") {
		t.Errorf("static placeholder not substituted: %s", body)
	}
	if got := liveTexts(d, "li"); len(got) != 2 || got[0] != "Apple" || got[1] != "Banana" {
		t.Errorf("loop items = %v", got)
	}
	if p := findLive(d, textTag); textContent(p) != "Inbox" {
		t.Errorf("reactive text = %q", textContent(p))
	}
}

func TestParseSubstitutesStaticTextOnce(t *testing.T) {
	st := quietState()
	st.SetGlobal("greeting", "Hello")

	d := newTestDoc(t, st, `<html><body><p>{{greeting}}</p></body></html>`)
	if body := d.BodyHTML(); !strings.Contains(body, "Hello") {
		t.Fatalf("static text not substituted at parse: %s", body)
	}

	// static text is a one-shot substitution; later refreshes leave it be
	st.SetGlobal("greeting", "Goodbye")
	d.Refresh(nil)
	if body := d.BodyHTML(); !strings.Contains(body, "Hello") || strings.Contains(body, "Goodbye") {
		t.Errorf("static text changed on refresh: %s", body)
	}
}

func TestBindRefreshesOnMutation(t *testing.T) {
	d := New(nil, quietOpts()...)
	d.Bind("items", []interface{}{"a"})
	if err := d.Mount(`<html><body><ul><v-for loopid="l" array="items"><li>${value}</li></v-for></ul></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := liveTexts(d, "li"); len(got) != 1 {
		t.Fatalf("initial items = %v", got)
	}

	d.State().Get("items").(*TrackedList).Append("b")

	if got := liveTexts(d, "li"); len(got) != 2 || got[1] != "b" {
		t.Errorf("after append items = %v, want [a b]", got)
	}
}

func TestRefreshScopesToSingleTarget(t *testing.T) {
	st := quietState()
	st.Watch("a", nopWatch, []interface{}{"x"})
	st.Watch("b", nopWatch, []interface{}{"y"})

	d := newTestDoc(t, st, `<html><body>
		<ul><v-for loopid="la" array="a"><li>${value}</li></v-for></ul>
		<ol><v-for loopid="lb" array="b"><li>${value}</li></v-for></ol>
	</body></html>`)
	d.Refresh(nil)

	st.Get("a").(*TrackedList).Append("x2")
	st.Get("b").(*TrackedList).Append("y2")
	d.Refresh(&RefreshOptions{LoopID: "la"})

	if got := liveTexts(d, "li"); len(got) != 3 {
		t.Errorf("after scoped refresh items = %v, want la refreshed and lb stale", got)
	}
}

func TestRefreshCategoryToggles(t *testing.T) {
	st := quietState()
	st.Watch("fruits", nopWatch, []interface{}{"Apple"})
	st.Watch("label", nopWatch, "one")

	d := newTestDoc(t, st, `<html><body>
		<ul><v-for loopid="l" array="fruits"><li>${value}</li></v-for></ul>
		<v-text stateid="label"></v-text>
	</body></html>`)
	d.Refresh(nil)

	st.Get("fruits").(*TrackedList).Append("Banana")
	if err := st.Set("label", "two"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	opts := DefaultRefreshOptions()
	opts.Loops = false
	d.Refresh(opts)

	if got := liveTexts(d, "li"); len(got) != 1 {
		t.Errorf("loops refreshed despite being disabled: %v", got)
	}
	if got := textContent(findLive(d, textTag)); got != "two" {
		t.Errorf("reactive text = %q, want two", got)
	}
}

func TestLoadingIndicatorAroundRefresh(t *testing.T) {
	var shows, hides int
	ind := IndicatorFuncs(func() { shows++ }, func() { hides++ })

	st := quietState()
	st.Watch("n", nopWatch, 1.0)
	d := newTestDoc(t, st, `<html><body><v-text stateid="n"></v-text></body></html>`, WithLoadingIndicator(ind))

	d.Refresh(nil)
	if shows != 1 || hides != 1 {
		t.Errorf("indicator saw %d shows and %d hides, want 1 each", shows, hides)
	}

	d.Refresh(&RefreshOptions{States: true})
	if shows != 1 || hides != 1 {
		t.Errorf("refresh without the loader flag touched the indicator: %d shows, %d hides", shows, hides)
	}
}

func TestCloseStopsRefreshing(t *testing.T) {
	st := quietState()
	st.Watch("label", nopWatch, "before")
	d := newTestDoc(t, st, `<html><body><v-text stateid="label"></v-text></body></html>`)
	d.Refresh(nil)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}

	if err := st.Set("label", "after"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	d.Refresh(nil)
	if got := textContent(findLive(d, textTag)); got != "before" {
		t.Errorf("closed document re-rendered: %q", got)
	}
}

func TestMountFileAndParseFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "page.html")
	if err := os.WriteFile(name, []byte(`<html><body><p>{{msg}}</p></body></html>`), 0o644); err != nil {
		t.Fatal(err)
	}

	st := quietState()
	st.SetGlobal("msg", "from disk")
	d := New(st, quietOpts()...)
	if err := d.MountFile(name); err != nil {
		t.Fatalf("MountFile: %v", err)
	}
	if body := d.BodyHTML(); !strings.Contains(body, "from disk") {
		t.Errorf("body = %s", body)
	}

	if err := d.ParseFile(filepath.Join(dir, "absent.html")); err == nil {
		t.Error("ParseFile on a missing file should fail")
	}
}

func TestWaitIdleWithNothingInFlight(t *testing.T) {
	d := newTestDoc(t, nil, `<html><body></body></html>`)
	if err := d.WaitIdle(context.Background()); err != nil {
		t.Errorf("WaitIdle: %v", err)
	}
}

func TestMinifiedOutput(t *testing.T) {
	st := quietState()
	st.SetGlobal("msg", "hi")
	d := newTestDoc(t, st, "<html>\n<body>\n  <p>{{msg}}</p>\n</body>\n</html>", WithMinify(true))

	out := d.HTML()
	if strings.Contains(out, "\n") {
		t.Errorf("minified output still has newlines: %q", out)
	}
	if !strings.Contains(out, "hi") {
		t.Errorf("minified output lost content: %q", out)
	}
}

func TestDocumentDelegates(t *testing.T) {
	st := quietState()
	st.Watch("n", nopWatch, 4)
	d := newTestDoc(t, st, `<html><body></body></html>`)

	if got := d.Evaluate("n * 2"); got != 8.0 {
		t.Errorf("Evaluate = %v", got)
	}
	if got := d.RenderMustache("{{n}}!"); got != "4!" {
		t.Errorf("RenderMustache = %q", got)
	}
	if d.State() != st {
		t.Error("State() should return the bound state")
	}
	if d.Metrics() == nil {
		t.Error("Metrics() should never be nil")
	}
}

func TestNewWithNilState(t *testing.T) {
	d := New(nil, quietOpts()...)
	if d.State() == nil {
		t.Fatal("nil state should be replaced with a fresh one")
	}
	d.State().Watch("x", nopWatch, 1)
	if got := d.State().Get("x"); got != 1 {
		t.Errorf("Get = %v", got)
	}
}
