package vivid

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/net/html"

	"github.com/livefir/vivid/internal/metrics"
)

// Document couples parsed HTML markup with a State and re-renders the
// markup's dynamic regions as that state changes.
//
// The usual flow is: create a State, register watches and initial values,
// create a Document over it, Mount the markup, and mutate state. Watch
// callbacks then drive Refresh calls, or use Bind for the common
// whole-document case.
type Document struct {
	cfg   *Config
	state *State

	mu          sync.Mutex
	root        *html.Node
	regions     map[string]*ifRegion
	dataLoopSrc map[string]string
	partGen     map[string]uint64
	idSeq       int
	closed      bool

	ctx     context.Context
	cancel  context.CancelFunc
	fetchWG sync.WaitGroup
}

// New creates a Document bound to state. A nil state gets a fresh one.
func New(state *State, opts ...Option) *Document {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if state == nil {
		state = NewState()
	}
	state.setLogger(cfg.Logger)
	state.setMetrics(cfg.Metrics)
	ctx, cancel := context.WithCancel(context.Background())
	return &Document{
		cfg:         cfg,
		state:       state,
		regions:     make(map[string]*ifRegion),
		dataLoopSrc: make(map[string]string),
		partGen:     make(map[string]uint64),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Parse loads document markup, captures conditional regions, and performs
// the one-shot placeholder pass over static text. It does not render any
// dynamic content; call Refresh, or use Mount instead.
func (d *Document) Parse(src string) error {
	root, err := parseDocument(src)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	d.state.Batch(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.root = root
		d.regions = make(map[string]*ifRegion)
		d.dataLoopSrc = make(map[string]string)
		d.partGen = make(map[string]uint64)
		d.captureConditionRegions()
		d.applyMustache(d.root)
	})
	return nil
}

// ParseFile loads document markup from a file.
func (d *Document) ParseFile(name string) error {
	raw, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	return d.Parse(string(raw))
}

// Mount parses the markup and performs the initial full render, including
// include fetches. Use WaitIdle to block until fetched parts are applied.
func (d *Document) Mount(src string) error {
	if err := d.Parse(src); err != nil {
		return err
	}
	opts := DefaultRefreshOptions()
	opts.Templates = true
	d.Refresh(opts)
	return nil
}

// MountFile is Mount reading the markup from a file.
func (d *Document) MountFile(name string) error {
	raw, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	return d.Mount(string(raw))
}

// State returns the state the document renders from.
func (d *Document) State() *State {
	return d.state
}

// Metrics returns the document's metrics collector.
func (d *Document) Metrics() *metrics.Collector {
	return d.cfg.Metrics
}

// Bind watches a state variable and re-renders the whole document whenever
// it changes.
func (d *Document) Bind(name string, initial interface{}) {
	d.state.Watch(name, func(string, interface{}) {
		d.Refresh(nil)
	}, initial)
}

// Evaluate evaluates an expression against the document state.
func (d *Document) Evaluate(expression string) interface{} {
	return d.state.Evaluate(expression, nil)
}

// RenderMustache substitutes global placeholders in template text.
func (d *Document) RenderMustache(template string) string {
	return d.state.RenderMustache(template)
}

// HTML serializes the whole document.
func (d *Document) HTML() string {
	d.mu.Lock()
	if d.root == nil {
		d.mu.Unlock()
		return ""
	}
	out := renderNode(d.root)
	d.mu.Unlock()
	if d.cfg.Minify {
		return minifyHTML(out)
	}
	return out
}

// BodyHTML serializes only the body content.
func (d *Document) BodyHTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.root == nil {
		return ""
	}
	body := findBody(d.root)
	if body == nil {
		return ""
	}
	return renderChildren(body)
}

// WaitIdle blocks until every in-flight include fetch has been applied or
// ctx is done.
func (d *Document) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.fetchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight fetches and detaches the document. Subsequent
// refreshes are no-ops. Closing twice returns ErrClosed.
func (d *Document) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	return nil
}

func (d *Document) nextID(kind string) string {
	d.idSeq++
	return fmt.Sprintf("vivid-%s-%d", kind, d.idSeq)
}

func (d *Document) logf(format string, args ...interface{}) {
	d.cfg.Logger.Printf(format, args...)
}

func (d *Document) metric(name string) {
	d.cfg.Metrics.Add(name, 1)
}
