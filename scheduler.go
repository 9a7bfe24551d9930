package vivid

import "sync"

// scheduler batches change notifications. Mutations schedule their binding;
// scheduled bindings fire once the current unit of work ends. A unit is an
// explicit State.Batch scope, or the single mutator call itself when no
// batch is open. Bindings scheduled while the queue is draining join the
// same drain, so cascading mutations settle in one tick.
type scheduler struct {
	mu       sync.Mutex
	depth    int
	draining bool
	pending  []*binding
	queued   map[*binding]bool
	active   *binding
}

func newScheduler() *scheduler {
	return &scheduler{queued: make(map[*binding]bool)}
}

// schedule enqueues b for its at-most-once-per-tick firing.
func (s *scheduler) schedule(b *binding) {
	s.mu.Lock()
	if !s.queued[b] {
		s.queued[b] = true
		s.pending = append(s.pending, b)
	}
	if s.depth > 0 || s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	s.drain()
}

// batch runs fn as one unit of work and drains afterwards. Batches nest;
// only the outermost one drains.
func (s *scheduler) batch(fn func()) {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.depth--
		start := s.depth == 0 && !s.draining && len(s.pending) > 0
		if start {
			s.draining = true
		}
		s.mu.Unlock()
		if start {
			s.drain()
		}
	}()

	fn()
}

func (s *scheduler) drain() {
	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		b := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.queued, b)
		s.active = b
		s.mu.Unlock()
		s.runOne(b)
	}
}

// runOne executes one binding's callback with the active slot held, so that
// mutations of the same binding fail fast instead of recursing. The slot is
// cleared even when the callback panics.
func (s *scheduler) runOne(b *binding) {
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()
	b.fire()
}

// activeTarget reports which binding is executing its callback right now.
func (s *scheduler) activeTarget() *binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
