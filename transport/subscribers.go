package transport

import (
	"sync"
	"sync/atomic"
)

// Subscription is returned by every Subscribe call. Dispose removes the
// registration; calling it more than once is a no-op.
type Subscription interface {
	Dispose()
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Dispose() {
	s.once.Do(s.remove)
}

type observer[T any] struct {
	fn       func(T)
	disposed atomic.Bool
}

// registry is an ordered list of observers. Notification iterates a
// snapshot, so observers may dispose themselves or each other while a
// notification is in progress. A disposed observer that has not been
// reached yet is skipped; no other observer is skipped or called twice.
type registry[T any] struct {
	mu        sync.Mutex
	observers []*observer[T]
}

func (r *registry[T]) subscribe(fn func(T)) Subscription {
	o := &observer[T]{fn: fn}
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()

	return &subscription{remove: func() {
		o.disposed.Store(true)
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, candidate := range r.observers {
			if candidate == o {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}}
}

func (r *registry[T]) snapshot() []*observer[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*observer[T](nil), r.observers...)
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// notify calls observers in registration order.
func (r *registry[T]) notify(v T) {
	for _, o := range r.snapshot() {
		if !o.disposed.Load() {
			o.fn(v)
		}
	}
}

// notifyReverse calls observers from the most recently registered to
// the first registered.
func (r *registry[T]) notifyReverse(v T) {
	observers := r.snapshot()
	for i := len(observers) - 1; i >= 0; i-- {
		if o := observers[i]; !o.disposed.Load() {
			o.fn(v)
		}
	}
}
