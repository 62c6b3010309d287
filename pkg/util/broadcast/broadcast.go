// Package broadcast provides typed publish/subscribe registries.
//
// Topic fans a value out to every subscriber (one-to-many). Handler routes a
// request to the single registered handler and returns its response
// (one-to-one).
package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrNoHandler is returned by Handler.Call when nothing is registered.
var ErrNoHandler = errors.New("no handler registered")

// Topic is a one-to-many registry. Subscribers run synchronously on the
// publishing goroutine, in subscription order.
type Topic[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription[T]{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers v to every current subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]subscription[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Handler is a one-to-one registry. Registering replaces the previous
// handler.
type Handler[Req, Res any] struct {
	mu sync.RWMutex
	fn func(context.Context, Req) Res
}

func (h *Handler[Req, Res]) Register(fn func(context.Context, Req) Res) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
}

func (h *Handler[Req, Res]) Registered() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fn != nil
}

// Call invokes the registered handler.
func (h *Handler[Req, Res]) Call(ctx context.Context, req Req) (Res, error) {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()

	if fn == nil {
		var zero Res
		return zero, ErrNoHandler
	}
	return fn(ctx, req), nil
}
