// Package eventbus is the in-process publish/subscribe registry that connects the loader, the
// session machine, the peer protocol and downstream consumers.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Unsubscribe removes a handler. It is safe to call more than once.
type Unsubscribe func()

// Topic is a named event with a typed payload.
type Topic[T any] struct {
	name    string
	oneShot bool
	logger  *logrus.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)
	order    []uint64
}

// NewTopic creates a topic. Handlers of a one-shot topic are dropped right after it fires.
func NewTopic[T any](name string, oneShot bool, logger *logrus.Logger) *Topic[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Topic[T]{
		name:     name,
		oneShot:  oneShot,
		logger:   logger,
		handlers: make(map[uint64]func(T)),
	}
}

// Name returns the event name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe registers h and returns the handle that removes it.
func (t *Topic[T]) Subscribe(h func(T)) Unsubscribe {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers[id] = h
	t.order = append(t.order, id)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

// Len returns the number of registered handlers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Publish delivers v to every handler registered when the call started. A handler that panics
// is logged and skipped.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	handlers := make([]func(T), 0, len(t.order))
	for _, id := range t.order {
		handlers = append(handlers, t.handlers[id])
	}
	if t.oneShot {
		t.handlers = make(map[uint64]func(T))
		t.order = nil
	}
	t.mu.Unlock()

	for _, h := range handlers {
		t.call(h, v)
	}
}

func (t *Topic[T]) call(h func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithFields(logrus.Fields{
				"event": t.name,
				"panic": fmt.Sprint(r),
			}).Error("eventbus: Publish - handler failed")
		}
	}()
	h(v)
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[id]; !ok {
		return
	}
	delete(t.handlers, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}
