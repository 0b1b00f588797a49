package orchestrator

import (
	"context"
	"sync"
)

// slotWaiter is one queued acquisition request. grant is closed by the
// releaser handing the slot over; a waiter that times out removes
// itself from the queue, and the releaser-vs-cancel race is resolved
// under the slot mutex.
type slotWaiter struct {
	grant   chan struct{}
	capture bool
	granted bool
}

// InferenceSlot models the exclusive on-device inference context: at
// most one local inference runs at a time. Waiters queue in FIFO
// order, except photo-capture requests jump ahead of pending streaming
// requests. The slot is held only as long as needed and released on
// every exit path, including cancellation.
type InferenceSlot struct {
	mu    sync.Mutex
	busy  bool
	queue []*slotWaiter
}

// NewInferenceSlot creates an idle slot
func NewInferenceSlot() *InferenceSlot {
	return &InferenceSlot{}
}

// Acquire claims the slot, blocking until it is free or ctx ends.
// capture requests are queued ahead of streaming requests. The
// returned release function is safe to call exactly once and must be
// called on every exit path.
func (s *InferenceSlot) Acquire(ctx context.Context, capture bool) (func(), error) {
	s.mu.Lock()
	if !s.busy && len(s.queue) == 0 {
		s.busy = true
		s.mu.Unlock()
		return s.releaseOnce(), nil
	}

	w := &slotWaiter{grant: make(chan struct{}), capture: capture}
	if capture {
		// Jump ahead of pending streaming requests, but stay behind
		// earlier captures to keep capture ordering FIFO
		insert := len(s.queue)
		for i, qw := range s.queue {
			if !qw.capture {
				insert = i
				break
			}
		}
		s.queue = append(s.queue, nil)
		copy(s.queue[insert+1:], s.queue[insert:])
		s.queue[insert] = w
	} else {
		s.queue = append(s.queue, w)
	}
	s.mu.Unlock()

	select {
	case <-w.grant:
		return s.releaseOnce(), nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.granted {
			// Lost the race: the slot was handed to us as we gave up.
			// Pass it along so it is never stranded.
			s.handoffLocked()
		} else {
			s.removeLocked(w)
		}
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// TryAcquire claims the slot only if it is immediately free
func (s *InferenceSlot) TryAcquire() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || len(s.queue) > 0 {
		return nil, false
	}
	s.busy = true
	return s.releaseOnce(), true
}

// releaseOnce wraps the release so double calls are harmless
func (s *InferenceSlot) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.handoffLocked()
			s.mu.Unlock()
		})
	}
}

// handoffLocked passes the slot to the next waiter or frees it
func (s *InferenceSlot) handoffLocked() {
	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		next.granted = true
		close(next.grant)
		// busy stays true; ownership moved to next
		return
	}
	s.busy = false
}

// removeLocked drops a cancelled waiter from the queue
func (s *InferenceSlot) removeLocked(w *slotWaiter) {
	for i, qw := range s.queue {
		if qw == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
