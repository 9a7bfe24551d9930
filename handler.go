package vivid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one connected live client: a Document of its own plus the
// websocket the rendered output travels on. Action handlers and OnConnect
// hooks may keep a Session and push updates at any time.
type Session struct {
	doc  *Document
	conn *websocket.Conn

	mu sync.Mutex // guards conn writes
}

// Document returns the session's document.
func (s *Session) Document() *Document {
	return s.doc
}

// State returns the session's state registry.
func (s *Session) State() *State {
	return s.doc.State()
}

// Push serializes the current body and sends it to the client.
func (s *Session) Push() error {
	body := s.doc.BodyHTML()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(renderFrame{Kind: "render", Body: body})
}

func (s *Session) pushError(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(renderFrame{Kind: "error", Error: msg})
}

// actionFrame is what live clients send: a registered function to call,
// its arguments, and an optional refresh narrowing.
type actionFrame struct {
	Action  string          `json:"action"`
	Args    []interface{}   `json:"args,omitempty"`
	Refresh *RefreshOptions `json:"refresh,omitempty"`
}

type renderFrame struct {
	Kind  string `json:"kind"`
	Body  string `json:"body,omitempty"`
	Error string `json:"error,omitempty"`
}

var actionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LiveHandler serves a vivid document over HTTP. Plain requests get a full
// server-side render; websocket upgrades get a per-connection document that
// re-renders and pushes its body whenever the client dispatches an action.
//
// Actions are registered functions on the session state, dispatched by
// name. Arbitrary expressions are not accepted from the wire.
type LiveHandler struct {
	markup       string
	setup        func(*State)
	docOpts      []Option
	upgrader     websocket.Upgrader
	onConnect    func(*Session)
	onDisconnect func(*Session)
	mountWait    time.Duration
}

// LiveOption configures a LiveHandler.
type LiveOption func(*LiveHandler)

// WithDocOptions passes document options through to every document the
// handler creates.
func WithDocOptions(opts ...Option) LiveOption {
	return func(h *LiveHandler) { h.docOpts = append(h.docOpts, opts...) }
}

// WithUpgrader overrides the websocket upgrader.
func WithUpgrader(u websocket.Upgrader) LiveOption {
	return func(h *LiveHandler) { h.upgrader = u }
}

// WithOnConnect registers a hook that runs when a live session starts.
func WithOnConnect(fn func(*Session)) LiveOption {
	return func(h *LiveHandler) { h.onConnect = fn }
}

// WithOnDisconnect registers a hook that runs when a live session ends.
func WithOnDisconnect(fn func(*Session)) LiveOption {
	return func(h *LiveHandler) { h.onDisconnect = fn }
}

// WithMountWait bounds how long a render waits for include fetches.
func WithMountWait(d time.Duration) LiveOption {
	return func(h *LiveHandler) { h.mountWait = d }
}

// Live builds a handler around document markup. setup runs once per
// document and registers the watched variables and action functions the
// markup renders from; it may be nil for static documents.
func Live(markup string, setup func(*State), opts ...LiveOption) *LiveHandler {
	h := &LiveHandler{
		markup: markup,
		setup:  setup,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mountWait: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *LiveHandler) newDocument() (*Document, error) {
	st := NewState()
	if h.setup != nil {
		h.setup(st)
	}
	d := New(st, h.docOpts...)
	if err := d.Mount(h.markup); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveLive(w, r)
		return
	}
	h.serveDocument(w, r)
}

func (h *LiveHandler) serveDocument(w http.ResponseWriter, r *http.Request) {
	d, err := h.newDocument()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.mountWait)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		d.logf("vivid: render wait: %v", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, d.HTML())
}

func (h *LiveHandler) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	d, err := h.newDocument()
	if err != nil {
		conn.WriteJSON(renderFrame{Kind: "error", Error: err.Error()})
		return
	}
	defer d.Close()

	s := &Session{doc: d, conn: conn}
	if h.onConnect != nil {
		h.onConnect(s)
	}
	defer func() {
		if h.onDisconnect != nil {
			h.onDisconnect(s)
		}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), h.mountWait)
	if err := d.WaitIdle(ctx); err != nil {
		d.logf("vivid: live mount wait: %v", err)
	}
	cancel()
	if err := s.Push(); err != nil {
		return
	}

	for {
		var frame actionFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if err := h.dispatch(s, frame); err != nil {
			d.metric("action_errors")
			d.logf("vivid: action %q: %v", frame.Action, err)
			if s.pushError(err.Error()) != nil {
				return
			}
			continue
		}
		d.metric("actions_dispatched")
		if s.Push() != nil {
			return
		}
	}
}

func (h *LiveHandler) dispatch(s *Session, frame actionFrame) error {
	if !actionNameRe.MatchString(frame.Action) {
		return fmt.Errorf("bad action name %q", frame.Action)
	}
	if !s.State().HasFunc(frame.Action) {
		return fmt.Errorf("unknown action %q", frame.Action)
	}
	if _, err := s.State().CallFunc(frame.Action, frame.Args...); err != nil {
		return err
	}
	s.doc.Refresh(frame.Refresh)
	return nil
}
