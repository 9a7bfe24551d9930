package vivid

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// TrackedMap is the observable view of a map[string]interface{} belonging
// to a watched variable. Reads return nested maps and slices wrapped with
// the same notification target; mutators perform the write and schedule the
// target's callback for the current tick. Mutating the underlying map
// directly bypasses the bookkeeping and is unsupported.
type TrackedMap struct {
	raw   map[string]interface{}
	b     *binding
	lists map[string]*TrackedList
}

// TrackedList is the observable view of a []interface{}. It carries a
// write-back slot because growth replaces the underlying slice header.
type TrackedList struct {
	raw   []interface{}
	b     *binding
	back  func([]interface{})
	lists map[int]*TrackedList
}

// trackedMapLocked returns the stable wrapper for raw under this binding.
// Wrapping the same map for the same binding always yields the same
// *TrackedMap, so identity-sensitive callers can compare results.
// Caller holds st.mu.
func (b *binding) trackedMapLocked(raw map[string]interface{}) *TrackedMap {
	ptr := reflect.ValueOf(raw).Pointer()
	if w, ok := b.maps[ptr]; ok {
		return w
	}
	w := &TrackedMap{raw: raw, b: b, lists: make(map[string]*TrackedList)}
	b.maps[ptr] = w
	return w
}

// checkActive guards against a callback mutating its own variable.
func (b *binding) checkActive() error {
	if b.st.sched.activeTarget() == b {
		return fmt.Errorf("%s: %w", b.name, ErrSelfMutation)
	}
	return nil
}

func (b *binding) notify() {
	b.st.metrics.Add("notifications_scheduled", 1)
	b.st.sched.schedule(b)
}

// unwrapInput strips a tracked wrapper passed back in as a value, so the
// stored data stays plain.
func unwrapInput(v interface{}) interface{} {
	switch t := v.(type) {
	case *TrackedMap:
		return t.raw
	case *TrackedList:
		return t.raw
	default:
		return v
	}
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = deepCopyValue(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = deepCopyValue(child)
		}
		return out
	default:
		return t
	}
}

// childLocked wraps the value stored under key. Caller holds st.mu.
func (m *TrackedMap) childLocked(key string) interface{} {
	v, ok := m.raw[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return m.b.trackedMapLocked(t)
	case []interface{}:
		if tl, ok := m.lists[key]; ok {
			return tl
		}
		tl := &TrackedList{
			raw:   t,
			b:     m.b,
			back:  func(ns []interface{}) { m.raw[key] = ns },
			lists: make(map[int]*TrackedList),
		}
		m.lists[key] = tl
		return tl
	default:
		return t
	}
}

// Get returns the value under key, wrapped when it is a map or slice, nil
// when absent.
func (m *TrackedMap) Get(key string) interface{} {
	m.b.st.mu.Lock()
	defer m.b.st.mu.Unlock()
	return m.childLocked(key)
}

// Member implements expression member access.
func (m *TrackedMap) Member(name string) (interface{}, bool) {
	m.b.st.mu.Lock()
	defer m.b.st.mu.Unlock()
	if _, ok := m.raw[name]; !ok {
		return nil, false
	}
	return m.childLocked(name), true
}

// Set writes key and schedules the binding's callback.
func (m *TrackedMap) Set(key string, v interface{}) error {
	if err := m.b.checkActive(); err != nil {
		return err
	}
	m.b.st.mu.Lock()
	m.raw[key] = unwrapInput(v)
	delete(m.lists, key)
	m.b.st.mu.Unlock()
	m.b.notify()
	return nil
}

// SetMember implements expression member assignment.
func (m *TrackedMap) SetMember(name string, v interface{}) error {
	return m.Set(name, v)
}

// Delete removes key. Deleting an absent key is a no-op and does not
// notify.
func (m *TrackedMap) Delete(key string) error {
	if err := m.b.checkActive(); err != nil {
		return err
	}
	m.b.st.mu.Lock()
	if _, ok := m.raw[key]; !ok {
		m.b.st.mu.Unlock()
		return nil
	}
	delete(m.raw, key)
	delete(m.lists, key)
	m.b.st.mu.Unlock()
	m.b.notify()
	return nil
}

// Has reports whether key is present.
func (m *TrackedMap) Has(key string) bool {
	m.b.st.mu.Lock()
	defer m.b.st.mu.Unlock()
	_, ok := m.raw[key]
	return ok
}

// Len returns the number of keys.
func (m *TrackedMap) Len() int {
	m.b.st.mu.Lock()
	defer m.b.st.mu.Unlock()
	return len(m.raw)
}

// Keys returns the keys in sorted order.
func (m *TrackedMap) Keys() []string {
	m.b.st.mu.Lock()
	defer m.b.st.mu.Unlock()
	keys := make([]string, 0, len(m.raw))
	for k := range m.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for each key in sorted order with the wrapped value,
// stopping when fn returns false. fn runs without internal locks held and
// may mutate the map.
func (m *TrackedMap) Range(fn func(key string, v interface{}) bool) {
	m.b.st.mu.Lock()
	keys := make([]string, 0, len(m.raw))
	for k := range m.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	children := make([]interface{}, len(keys))
	for i, k := range keys {
		children[i] = m.childLocked(k)
	}
	m.b.st.mu.Unlock()
	for i, k := range keys {
		if !fn(k, children[i]) {
			return
		}
	}
}

// Unwrap returns a plain deep copy of the current contents.
func (m *TrackedMap) Unwrap() map[string]interface{} {
	m.b.st.mu.Lock()
	defer m.b.st.mu.Unlock()
	return deepCopyValue(m.raw).(map[string]interface{})
}

// MarshalJSON serializes the current contents.
func (m *TrackedMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Unwrap())
}

func (m *TrackedMap) String() string {
	buf, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(buf)
}

// childLocked wraps the element at index i. Caller holds st.mu.
func (l *TrackedList) childLocked(i int) interface{} {
	if i < 0 || i >= len(l.raw) {
		return nil
	}
	switch t := l.raw[i].(type) {
	case map[string]interface{}:
		return l.b.trackedMapLocked(t)
	case []interface{}:
		if tl, ok := l.lists[i]; ok {
			return tl
		}
		tl := &TrackedList{
			raw:   t,
			b:     l.b,
			back:  func(ns []interface{}) { l.raw[i] = ns },
			lists: make(map[int]*TrackedList),
		}
		l.lists[i] = tl
		return tl
	default:
		return t
	}
}

// Index returns the element at i, wrapped when it is a map or slice, nil
// when out of range.
func (l *TrackedList) Index(i int) interface{} {
	l.b.st.mu.Lock()
	defer l.b.st.mu.Unlock()
	return l.childLocked(i)
}

// Item implements expression index access.
func (l *TrackedList) Item(i int) (interface{}, bool) {
	l.b.st.mu.Lock()
	defer l.b.st.mu.Unlock()
	if i < 0 || i >= len(l.raw) {
		return nil, false
	}
	return l.childLocked(i), true
}

// Set writes the element at i and schedules the binding's callback.
func (l *TrackedList) Set(i int, v interface{}) error {
	if err := l.b.checkActive(); err != nil {
		return err
	}
	l.b.st.mu.Lock()
	if i < 0 || i >= len(l.raw) {
		n := len(l.raw)
		l.b.st.mu.Unlock()
		return fmt.Errorf("index %d out of range (len %d)", i, n)
	}
	l.raw[i] = unwrapInput(v)
	delete(l.lists, i)
	l.b.st.mu.Unlock()
	l.b.notify()
	return nil
}

// SetItem implements expression index assignment.
func (l *TrackedList) SetItem(i int, v interface{}) error {
	return l.Set(i, v)
}

// Append adds values to the end. The whole call is one mutation: the
// callback is scheduled once however many values are added, and the length
// change is part of that same notification.
func (l *TrackedList) Append(vs ...interface{}) error {
	if err := l.b.checkActive(); err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	l.b.st.mu.Lock()
	for _, v := range vs {
		l.raw = append(l.raw, unwrapInput(v))
	}
	if l.back != nil {
		l.back(l.raw)
	}
	l.b.st.mu.Unlock()
	l.b.notify()
	return nil
}

// Insert places v at index i, shifting later elements. i is clamped to the
// valid range.
func (l *TrackedList) Insert(i int, v interface{}) error {
	if err := l.b.checkActive(); err != nil {
		return err
	}
	l.b.st.mu.Lock()
	if i < 0 {
		i = 0
	}
	if i > len(l.raw) {
		i = len(l.raw)
	}
	l.raw = append(l.raw, nil)
	copy(l.raw[i+1:], l.raw[i:])
	l.raw[i] = unwrapInput(v)
	if l.back != nil {
		l.back(l.raw)
	}
	l.lists = make(map[int]*TrackedList)
	l.b.st.mu.Unlock()
	l.b.notify()
	return nil
}

// Remove deletes the element at i, shifting later elements down.
func (l *TrackedList) Remove(i int) error {
	if err := l.b.checkActive(); err != nil {
		return err
	}
	l.b.st.mu.Lock()
	if i < 0 || i >= len(l.raw) {
		n := len(l.raw)
		l.b.st.mu.Unlock()
		return fmt.Errorf("index %d out of range (len %d)", i, n)
	}
	l.raw = append(l.raw[:i], l.raw[i+1:]...)
	if l.back != nil {
		l.back(l.raw)
	}
	l.lists = make(map[int]*TrackedList)
	l.b.st.mu.Unlock()
	l.b.notify()
	return nil
}

// Clear removes all elements.
func (l *TrackedList) Clear() error {
	if err := l.b.checkActive(); err != nil {
		return err
	}
	l.b.st.mu.Lock()
	changed := len(l.raw) > 0
	l.raw = l.raw[:0]
	if l.back != nil {
		l.back(l.raw)
	}
	l.lists = make(map[int]*TrackedList)
	l.b.st.mu.Unlock()
	if changed {
		l.b.notify()
	}
	return nil
}

// Len returns the element count.
func (l *TrackedList) Len() int {
	l.b.st.mu.Lock()
	defer l.b.st.mu.Unlock()
	return len(l.raw)
}

// Range calls fn for each element in order with the wrapped value, stopping
// when fn returns false. fn runs without internal locks held and may mutate
// the list.
func (l *TrackedList) Range(fn func(i int, v interface{}) bool) {
	l.b.st.mu.Lock()
	children := make([]interface{}, len(l.raw))
	for i := range l.raw {
		children[i] = l.childLocked(i)
	}
	l.b.st.mu.Unlock()
	for i, c := range children {
		if !fn(i, c) {
			return
		}
	}
}

// Unwrap returns a plain deep copy of the current contents.
func (l *TrackedList) Unwrap() []interface{} {
	l.b.st.mu.Lock()
	defer l.b.st.mu.Unlock()
	return deepCopyValue(l.raw).([]interface{})
}

// MarshalJSON serializes the current contents.
func (l *TrackedList) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Unwrap())
}

func (l *TrackedList) String() string {
	buf, err := l.MarshalJSON()
	if err != nil {
		return "[]"
	}
	return string(buf)
}
