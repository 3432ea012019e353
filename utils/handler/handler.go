// Package handler dispatches voice session events to registered callbacks and
// channels.
//
// # Usage
//
// A Handlers value is created with New and fed with Dispatch. Consumers attach
// with Add for a typed callback, Expect to block until a matching event
// arrives, or HandleChannel to receive every event.
package handler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher is an interface for dispatching events.
type Dispatcher[T any] interface {
	// Dispatch dispatches all handlers with the given event. The method blocks
	// until all synchronous handlers are done.
	Dispatch(ev T)
}

// Handler is an interface for adding callbacks and channels.
type Handler[T any] interface {
	// HandleCallback adds a callback function that is called on every dispatched
	// event. It returns a function that would remove this handler when called.
	// Callbacks are dispatched in their own goroutine.
	HandleCallback(fn func(T)) (rm func())
	// HandleSynchronousCallback is like HandleCallback, but it's called
	// synchronously. Use this only for non-blocking operations.
	HandleSynchronousCallback(fn func(T)) (rm func())
	// HandleChannel adds the given channel to receive dispatched events. Sends
	// happen in the background; calling rm cancels any pending sends.
	//
	// The channel must not be closed by the caller.
	HandleChannel(ch chan<- T) (rm func())
}

// Add adds a callback function that is called on every dispatched event to
// the given handler. If the dispatched type does not implement the callback's
// argument type, it is ignored. The callback is dispatched asynchronously.
func Add[HandlerT any, EventT any](h Handler[HandlerT], fn func(EventT)) (rm func()) {
	assertImpl[HandlerT, EventT]()

	return h.HandleSynchronousCallback(func(ev HandlerT) {
		if e, ok := any(ev).(EventT); ok {
			go fn(e)
		}
	})
}

// AddSynchronous is like Add, but the callback is dispatched synchronously.
func AddSynchronous[HandlerT any, EventT any](h Handler[HandlerT], fn func(EventT)) (rm func()) {
	assertImpl[HandlerT, EventT]()

	return h.HandleSynchronousCallback(func(ev HandlerT) {
		if e, ok := any(ev).(EventT); ok {
			fn(e)
		}
	})
}

// Expect returns a function that blocks until the given callback returns true,
// and then returns the event. The handler is registered when Expect is called,
// so events dispatched before the returned function is called are not missed.
func Expect[HandlerT, EventT any](h Handler[HandlerT], fn func(EventT) bool) func(context.Context) (EventT, error) {
	assertImpl[HandlerT, EventT]()

	out := make(chan HandlerT)
	rm := h.HandleChannel(out)

	return func(ctx context.Context) (EventT, error) {
		defer rm()

		for {
			select {
			case <-ctx.Done():
				var z EventT
				return z, ctx.Err()
			case ev := <-out:
				v, ok := any(ev).(EventT)
				if ok && fn(v) {
					return v, nil
				}
			}
		}
	}
}

// Handlers is a container for event handlers. A zero-value instance is a valid
// instance.
type Handlers[T any] struct {
	mutex   sync.RWMutex
	callers slab[caller[T]]
}

var (
	_ Dispatcher[struct{}] = (*Handlers[struct{}])(nil)
	_ Handler[struct{}]    = (*Handlers[struct{}])(nil)
)

// New constructs a new Handlers.
func New[T any]() *Handlers[T] {
	return &Handlers[T]{callers: newSlab[caller[T]](8)}
}

// Dispatch implements Dispatcher.
func (h *Handlers[T]) Dispatch(ev T) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	h.callers.All(func(c caller[T]) bool {
		c.Call(ev)
		return true
	})
}

// HandleCallback implements Handler.
func (h *Handlers[T]) HandleCallback(fn func(T)) (rm func()) {
	return h.add(callback[T]{fn: fn, async: true})
}

// HandleSynchronousCallback implements Handler.
func (h *Handlers[T]) HandleSynchronousCallback(fn func(T)) (rm func()) {
	return h.add(callback[T]{fn: fn})
}

// HandleChannel implements Handler.
func (h *Handlers[T]) HandleChannel(ch chan<- T) (rm func()) {
	return h.add(channel[T]{ch: ch, close: make(chan struct{})})
}

func (h *Handlers[T]) add(c caller[T]) (rm func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	i := h.callers.Put(c)
	var gone atomic.Bool

	return func() {
		if !gone.CompareAndSwap(false, true) {
			return
		}

		h.mutex.Lock()
		c := h.callers.Pop(i)
		h.mutex.Unlock()
		c.Close()
	}
}

type caller[T any] interface {
	Call(T)
	Close()
}

var (
	_ caller[struct{}] = callback[struct{}]{}
	_ caller[struct{}] = channel[struct{}]{}
)

type callback[T any] struct {
	fn    func(T)
	async bool
}

func (c callback[T]) Call(v T) {
	if c.async {
		go c.fn(v)
	} else {
		c.fn(v)
	}
}

func (c callback[T]) Close() {}

type channel[T any] struct {
	ch    chan<- T
	close chan struct{}
}

func (c channel[T]) Call(v T) {
	select {
	case <-c.close:
		return
	default:
	}

	go func() {
		select {
		case c.ch <- v:
		case <-c.close:
		}
	}()
}

func (c channel[T]) Close() {
	select {
	case <-c.close:
	default:
		close(c.close)
	}
}
