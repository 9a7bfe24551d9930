package vivid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"
)

// stubFetcher serves include bodies from a map and counts fetches per
// reference.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		bodies: make(map[string]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, ref string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ref]++
	if err := f.errs[ref]; err != nil {
		return nil, "", err
	}
	body, ok := f.bodies[ref]
	if !ok {
		return nil, "", fmt.Errorf("no such part %q", ref)
	}
	return io.NopCloser(strings.NewReader(body)), "text/html; charset=utf-8", nil
}

func (f *stubFetcher) count(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

func waitIdle(t *testing.T, d *Document) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestIncludeFetchesAndApplies(t *testing.T) {
	f := newStubFetcher()
	f.bodies["hero.html"] = "<article>{{title}}</article>"

	st := quietState()
	st.Watch("title", nopWatch, "Launch")
	d := New(st, quietOpts(WithFetcher(f))...)
	if err := d.Mount(`<html><body><v-include file="hero.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	body := d.BodyHTML()
	if !strings.Contains(body, "<article>Launch</article>") {
		t.Errorf("part not applied: %s", body)
	}
	if inc := findLive(d, "v-include"); !hasAttr(inc, "data-vivid-filled") {
		t.Error("applied include should carry the filled marker")
	}
	if d.Metrics().Get("includes_fetched") == 0 {
		t.Error("fetch not counted")
	}
}

func TestIncludeCacheHitRendersSynchronously(t *testing.T) {
	f := newStubFetcher()
	f.bodies["hero.html"] = "<article>{{title}}</article>"

	st := quietState()
	st.Watch("title", nopWatch, "One")
	d := New(st, quietOpts(WithFetcher(f))...)
	if err := d.Mount(`<html><body><v-include file="hero.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	if err := st.Set("title", "Two"); err != nil {
		t.Fatal(err)
	}
	opts := DefaultRefreshOptions()
	opts.Templates = true
	d.Refresh(opts)

	// no WaitIdle: the cached body applies inside the refresh
	if body := d.BodyHTML(); !strings.Contains(body, "<article>Two</article>") {
		t.Errorf("cached part not re-rendered: %s", body)
	}
	if got := f.count("hero.html"); got != 1 {
		t.Errorf("fetch count = %d, want 1 with a warm cache", got)
	}
}

func TestIncludeScopedRendersOnce(t *testing.T) {
	f := newStubFetcher()
	f.bodies["hero.html"] = "<article>{{title}}</article>"

	st := quietState()
	st.Watch("title", nopWatch, "One")
	d := New(st, quietOpts(WithFetcher(f))...)
	if err := d.Mount(`<html><body><v-include scoped file="hero.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	if err := st.Set("title", "Two"); err != nil {
		t.Fatal(err)
	}
	opts := DefaultRefreshOptions()
	opts.Templates = true
	d.Refresh(opts)

	if body := d.BodyHTML(); !strings.Contains(body, "<article>One</article>") {
		t.Errorf("scoped part should keep its first render: %s", body)
	}
	if got := f.count("hero.html"); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
}

func TestIncludeFetchErrorShowsMarker(t *testing.T) {
	f := newStubFetcher()
	f.errs["bad.html"] = fmt.Errorf("boom")

	d := New(quietState(), quietOpts(WithFetcher(f))...)
	if err := d.Mount(`<html><body><v-include file="bad.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	if body := d.BodyHTML(); !strings.Contains(body, "❌ include bad.html: boom") {
		t.Errorf("want inline error marker, got %s", body)
	}
	if d.Metrics().Get("include_errors") == 0 {
		t.Error("include error not counted")
	}
}

func TestIncludeWithoutFileRef(t *testing.T) {
	d := New(quietState(), quietOpts()...)
	if err := d.Mount(`<html><body><v-include></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if body := d.BodyHTML(); !strings.Contains(body, "❌ include: missing file reference") {
		t.Errorf("want inline marker, got %s", body)
	}
}

// gateFetcher blocks its first fetch until released and answers later
// fetches immediately, to force out-of-order completion.
type gateFetcher struct {
	mu      sync.Mutex
	started chan struct{}
	gate    chan struct{}
	calls   int
}

func (f *gateFetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if call == 1 {
		close(f.started)
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
		return io.NopCloser(strings.NewReader("<p>OLD</p>")), "", nil
	}
	return io.NopCloser(strings.NewReader("<p>NEW</p>")), "", nil
}

func TestIncludeLastWriteWins(t *testing.T) {
	f := &gateFetcher{started: make(chan struct{}), gate: make(chan struct{})}

	d := New(quietState(), quietOpts(WithFetcher(f))...)
	if err := d.Mount(`<html><body><v-include file="part.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("mount fetch never started")
	}

	// second refresh supersedes the gated first fetch
	opts := DefaultRefreshOptions()
	opts.Templates = true
	d.Refresh(opts)

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(d.BodyHTML(), "NEW") {
		if time.Now().After(deadline) {
			t.Fatalf("newer fetch never applied: %s", d.BodyHTML())
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(f.gate)
	waitIdle(t, d)

	if body := d.BodyHTML(); strings.Contains(body, "OLD") {
		t.Errorf("stale fetch overwrote newer content: %s", body)
	}
	if cached, ok := d.cfg.PartCache.Get("part.html"); !ok || !strings.Contains(cached, "NEW") {
		t.Errorf("cache holds %q, want the newer body", cached)
	}
}

func TestPrefetchPartsWarmsCache(t *testing.T) {
	f := newStubFetcher()
	f.bodies["a.html"] = "<p>aaa</p>"
	f.bodies["b.html"] = "<p>bbb</p>"

	d := New(quietState(), quietOpts(WithFetcher(f))...)
	if err := d.Parse(`<html><body><v-include file="a.html"></v-include><v-include file="b.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := d.PrefetchParts(context.Background()); err != nil {
		t.Fatalf("PrefetchParts: %v", err)
	}

	opts := DefaultRefreshOptions()
	opts.Templates = true
	d.Refresh(opts)

	// both parts applied synchronously off the warm cache
	body := d.BodyHTML()
	if !strings.Contains(body, "aaa") || !strings.Contains(body, "bbb") {
		t.Errorf("prefetched parts not applied: %s", body)
	}
	if f.count("a.html") != 1 || f.count("b.html") != 1 {
		t.Errorf("fetch counts = %d/%d, want 1/1", f.count("a.html"), f.count("b.html"))
	}
}

func TestIncludeContentRendersDirectives(t *testing.T) {
	f := newStubFetcher()
	f.bodies["panel.html"] = `<v-if value="on"><ul><v-for loopid="xs" array="xs"><li>${value}</li></v-for></ul></v-if><p>{{label}}</p>`

	st := quietState()
	st.Watch("on", nopWatch, true)
	st.Watch("xs", nopWatch, []interface{}{"a", "b"})
	st.Watch("label", nopWatch, "L")
	d := New(st, quietOpts(WithFetcher(f))...)
	if err := d.Mount(`<html><body><v-include file="panel.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	if got := liveTexts(d, "li"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("loop in part = %v", got)
	}
	if got := liveTexts(d, "p"); !reflect.DeepEqual(got, []string{"L"}) {
		t.Errorf("placeholder in part = %v", got)
	}
}

func TestIncludeFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"parts/hero.html": &fstest.MapFile{Data: []byte("<p>fs hero</p>")},
	}
	d := New(quietState(), quietOpts(WithFS(fsys))...)
	if err := d.Mount(`<html><body><v-include file="/parts/hero.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	if body := d.BodyHTML(); !strings.Contains(body, "fs hero") {
		t.Errorf("part not loaded from FS: %s", body)
	}
}

func TestIncludeFromBaseDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "part.html"), []byte("<p>disk part</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New(quietState(), quietOpts(WithBaseDir(dir))...)
	if err := d.Mount(`<html><body><v-include file="part.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	if body := d.BodyHTML(); !strings.Contains(body, "disk part") {
		t.Errorf("part not loaded from disk: %s", body)
	}
}

func TestIncludeBaseDirConfinesTraversal(t *testing.T) {
	dir := t.TempDir()
	d := New(quietState(), quietOpts(WithBaseDir(dir))...)
	if err := d.Mount(`<html><body><v-include file="../../outside.html"></v-include></body></html>`); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	// the cleaned reference stays under the base directory and misses
	if body := d.BodyHTML(); !strings.Contains(body, "❌ include") {
		t.Errorf("want an error marker, got %s", body)
	}
}

func TestIncludeOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hero.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<p>from http</p>")
		case "/latin.html":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			w.Write([]byte{'c', 'a', 'f', 0xE9})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(quietState(), quietOpts()...)
	err := d.Mount(fmt.Sprintf(`<html><body><v-include file="%s/hero.html"></v-include><v-include file="%s/latin.html"></v-include><v-include file="%s/nope.html"></v-include></body></html>`, srv.URL, srv.URL, srv.URL))
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	waitIdle(t, d)

	body := d.BodyHTML()
	if !strings.Contains(body, "from http") {
		t.Errorf("http part missing: %s", body)
	}
	if !strings.Contains(body, "café") {
		t.Errorf("legacy charset not decoded: %s", body)
	}
	if !strings.Contains(body, "404") {
		t.Errorf("http error should surface inline: %s", body)
	}
}

func TestBoolAttr(t *testing.T) {
	kids, err := parseFragment(`<div a b="" c="true" d="false" e="0" f="no" g="off" h="scoped"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	n := kids[0]

	for attr, want := range map[string]bool{
		"a": true, "b": true, "c": true, "h": true,
		"d": false, "e": false, "f": false, "g": false,
		"absent": false,
	} {
		if got := boolAttr(n, attr); got != want {
			t.Errorf("boolAttr(%s) = %v, want %v", attr, got, want)
		}
	}
}
