package vivid

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/livefir/vivid/internal/expr"
	"github.com/livefir/vivid/internal/metrics"
)

// WatchFunc is a watched variable's notification callback. It receives the
// variable's name and its current value, wrapped when the value is a map or
// slice.
type WatchFunc func(name string, value interface{})

// binding ties a watched name to its callback. It also owns the identity
// cache for map wrappers, so wrapping the same map for the same binding
// returns the same *TrackedMap.
type binding struct {
	name     string
	fn       WatchFunc
	st       *State
	maps     map[uintptr]*TrackedMap
	rootList *TrackedList
}

func (b *binding) fire() {
	b.st.metrics.Add("notifications_fired", 1)
	b.fn(b.name, b.st.Get(b.name))
}

// State is the registry of named variables: watched ones with callbacks and
// plain globals without. It owns the notification scheduler, so all
// variables registered on one State batch together.
type State struct {
	mu       sync.Mutex
	values   map[string]interface{}
	bindings map[string]*binding
	funcs    map[string]interface{}
	sched    *scheduler
	logger   *log.Logger
	metrics  *metrics.Collector
}

// NewState returns an empty registry.
func NewState() *State {
	return &State{
		values:   make(map[string]interface{}),
		bindings: make(map[string]*binding),
		funcs:    make(map[string]interface{}),
		sched:    newScheduler(),
		logger:   log.Default(),
		metrics:  metrics.NewCollector(),
	}
}

func (s *State) setLogger(l *log.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *State) setMetrics(c *metrics.Collector) {
	if c != nil {
		s.metrics = c
	}
}

// Metrics exposes the engine counters collected for this State.
func (s *State) Metrics() *metrics.Collector {
	return s.metrics
}

// Watch registers name with a notification callback and an initial value.
// Maps and slices are stored tracked, so later in-place mutation through
// the wrapper schedules fn; scalars are stored directly and notify on Set.
// Watching an already-watched name is a no-op. Watching a name that exists
// as a plain global logs a warning and rebinds it with initial. A nil fn is
// a programming defect and panics.
func (s *State) Watch(name string, fn WatchFunc, initial interface{}) {
	if fn == nil {
		panic("vivid: Watch requires a non-nil callback")
	}
	s.mu.Lock()
	if _, ok := s.bindings[name]; ok {
		s.mu.Unlock()
		return
	}
	_, collision := s.values[name]
	b := &binding{name: name, fn: fn, st: s, maps: make(map[uintptr]*TrackedMap)}
	s.bindings[name] = b
	s.values[name] = unwrapInput(initial)
	s.mu.Unlock()
	if collision {
		s.logger.Printf("vivid: watch %q overrides an existing global", name)
	}
	s.metrics.Add("watches_registered", 1)
}

// Set assigns a new value to name. For a watched name the callback is
// scheduled, subject to the self-mutation guard; for other names this is a
// plain store.
func (s *State) Set(name string, v interface{}) error {
	s.mu.Lock()
	b := s.bindings[name]
	s.mu.Unlock()
	if b != nil {
		if err := b.checkActive(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.values[name] = unwrapInput(v)
	if b != nil {
		b.rootList = nil
	}
	s.mu.Unlock()
	if b != nil {
		b.notify()
	}
	return nil
}

// SetGlobal stores an unwatched global. Writing a watched name through it
// behaves exactly like Set, there is no silent bypass of the callback.
func (s *State) SetGlobal(name string, v interface{}) error {
	return s.Set(name, v)
}

// Get returns the current value of name: wrapped for watched maps/slices,
// verbatim otherwise, nil when absent.
func (s *State) Get(name string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(name)
}

func (s *State) getLocked(name string) interface{} {
	v, ok := s.values[name]
	if !ok {
		return nil
	}
	b := s.bindings[name]
	if b == nil {
		return v
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return b.trackedMapLocked(t)
	case []interface{}:
		if b.rootList != nil {
			return b.rootList
		}
		b.rootList = &TrackedList{
			raw:   t,
			b:     b,
			back:  func(ns []interface{}) { s.values[name] = ns },
			lists: make(map[int]*TrackedList),
		}
		return b.rootList
	default:
		return t
	}
}

// Has reports whether name exists, watched or not.
func (s *State) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[name]
	return ok
}

// IsWatched reports whether name has a registered callback.
func (s *State) IsWatched(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bindings[name]
	return ok
}

// Names returns the watched names in sorted order.
func (s *State) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterFunc makes fn callable from template expressions under name.
func (s *State) RegisterFunc(name string, fn interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = fn
}

// HasFunc reports whether a function is registered under name.
func (s *State) HasFunc(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.funcs[name]
	return ok
}

// CallFunc invokes a registered function by name with the given arguments,
// applying the same argument conversion as expression calls.
func (s *State) CallFunc(name string, args ...interface{}) (interface{}, error) {
	s.mu.Lock()
	fn, ok := s.funcs[name]
	s.mu.Unlock()
	if !ok {
		return expr.Undefined, fmt.Errorf("no registered function %q", name)
	}
	return expr.Call(fn, args)
}

// Batch runs fn as one unit of work: notifications scheduled inside fire
// once at the end, deduplicated per variable.
func (s *State) Batch(fn func()) {
	s.sched.batch(fn)
}
