// Package cache provides retention for messages the client has decoded.
//
// The client itself only needs Put; Get and Len exist for consumers that
// want to look back at recent messages. Access is single-writer from the
// active session, so implementations only need to be safe for that.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Store receives every decoded message, keyed by its upstream id.
type Store interface {
	Put(id string, v any)
}

// Discard is a Store that retains nothing.
type Discard struct{}

// Put implements Store.
func (Discard) Put(string, any) {}

// DefaultSize bounds the LRU when no size is configured.
const DefaultSize = 1000

// LRU is a bounded in-memory Store evicting the least recently used entry.
type LRU struct {
	inner *lru.Cache[string, any]
}

var _ Store = (*LRU)(nil)

// NewLRU creates an LRU retaining at most size messages.
func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = DefaultSize
	}
	inner, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &LRU{inner: inner}, nil
}

// Put stores v under id, evicting the oldest entry when full.
func (c *LRU) Put(id string, v any) {
	if id == "" {
		return
	}
	c.inner.Add(id, v)
}

// Get returns the message stored under id, if still retained.
func (c *LRU) Get(id string) (any, bool) {
	return c.inner.Get(id)
}

// Contains reports whether id is retained without updating recency.
func (c *LRU) Contains(id string) bool {
	return c.inner.Contains(id)
}

// Len returns the number of retained messages.
func (c *LRU) Len() int {
	return c.inner.Len()
}
