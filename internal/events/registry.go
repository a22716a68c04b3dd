// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package events provides the publish/subscribe registry shared by the sync
// components. Subscriptions return a disposer and every handler runs behind
// its own recover, so a panicking listener never stops delivery to the rest.
package events

import (
	"fmt"
	"sync"

	"github.com/MKhiriev/go-offline-sync/internal/logger"
)

// Disposer removes a subscription. Calling it more than once is a no-op.
type Disposer func()

// List is an ordered, concurrency-safe set of handlers of any shape.
type List[H any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]H
	order    []uint64
}

// Add registers h and returns its disposer.
func (l *List[H]) Add(h H) Disposer {
	l.mu.Lock()
	if l.handlers == nil {
		l.handlers = make(map[uint64]H)
	}
	l.nextID++
	id := l.nextID
	l.handlers[id] = h
	l.order = append(l.order, id)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[H]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.handlers, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the handlers in registration order.
func (l *List[H]) Snapshot() []H {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]H, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.handlers[id])
	}
	return out
}

// Len returns the number of live handlers.
func (l *List[H]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// Registry delivers values of one event kind to its subscribers.
type Registry[T any] struct {
	List[func(T)]

	name string
	log  *logger.Logger
}

// NewRegistry creates an empty registry. name is used in log lines only.
func NewRegistry[T any](name string, log *logger.Logger) *Registry[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry[T]{name: name, log: log}
}

// Subscribe registers h and returns its disposer.
func (r *Registry[T]) Subscribe(h func(T)) Disposer {
	return r.Add(h)
}

// Emit delivers v to every handler synchronously, in subscription order.
func (r *Registry[T]) Emit(v T) {
	for _, h := range r.Snapshot() {
		if err := Call(func() error { h(v); return nil }); err != nil {
			r.log.Warn().
				Err(err).
				Str("func", "events.Registry.Emit").
				Str("event", r.name).
				Msg("listener failed")
		}
	}
}

// Call runs fn and converts a panic into an error.
func Call(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return fn()
}
