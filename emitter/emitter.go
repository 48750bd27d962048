// Package emitter provides the event dispatch layer for the p2pws client.
//
// It is deliberately not a general pub/sub bus: each event name carries at
// most one listener, and registering again for the same name replaces the
// previous listener. Emit invokes the listener inline and does not return
// until the listener does, so a slow listener directly backpressures the
// publisher.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Event identifies a dispatchable event ("ready", "earthquake", ...).
type Event string

// Handler is an event listener. Args carry the event payload, if any.
// An error returned by a handler propagates to the Emit caller.
type Handler func(ctx context.Context, args ...any) error

// ErrInvalidHandler is returned when a listener registration is unusable.
var ErrInvalidHandler = errors.New("emitter: handler must not be nil")

// Bus maps event names to their single listener.
// It is safe for concurrent registration and emission.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event]Handler
	logger   zerolog.Logger
}

// New creates an empty Bus logging through the given logger.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Event]Handler),
		logger:   logger,
	}
}

// On registers h as the listener for name, replacing any previous listener.
func (b *Bus) On(name Event, h Handler) error {
	if h == nil {
		return ErrInvalidHandler
	}
	if name == "" {
		return fmt.Errorf("%w: empty event name", ErrInvalidHandler)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, replaced := b.handlers[name]; replaced {
		b.logger.Debug().Str("event", string(name)).Msg("replacing listener")
	}
	b.handlers[name] = h
	return nil
}

// Off removes the listener for name, if any.
func (b *Bus) Off(name Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// Has reports whether name currently has a listener.
func (b *Bus) Has(name Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[name]
	return ok
}

// Emit invokes the listener for name with args and waits for it to finish.
// With no listener registered, Emit is a no-op and returns nil.
// A listener error is returned to the caller unchanged.
func (b *Bus) Emit(ctx context.Context, name Event, args ...any) error {
	b.mu.RLock()
	h := b.handlers[name]
	b.mu.RUnlock()
	if h == nil {
		b.logger.Debug().Str("event", string(name)).Msg("no listener, dropping event")
		return nil
	}
	return h(ctx, args...)
}

// On0 registers a payload-less listener for name.
func On0(b *Bus, name Event, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrInvalidHandler
	}
	return b.On(name, func(ctx context.Context, args ...any) error {
		return fn(ctx)
	})
}

// On1 registers a listener taking a single payload of type T for name.
// Emitting a payload of any other type fails the emit with an error.
func On1[T any](b *Bus, name Event, fn func(ctx context.Context, v T) error) error {
	if fn == nil {
		return ErrInvalidHandler
	}
	return b.On(name, func(ctx context.Context, args ...any) error {
		if len(args) == 0 {
			return fmt.Errorf("emitter: event %q emitted without payload", name)
		}
		v, ok := args[0].(T)
		if !ok {
			return fmt.Errorf("emitter: event %q payload is %T, want %T", name, args[0], v)
		}
		return fn(ctx, v)
	})
}
