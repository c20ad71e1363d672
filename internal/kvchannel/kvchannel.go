// Package kvchannel implements a tiny in-memory key-value coordination
// channel used inside the update daemon to hand update requests from its
// own control endpoint to its apply loop and to publish status/results
// back to callers polling that endpoint, without reaching for a real
// message broker for what is, within one process, just a map with
// change notification.
package kvchannel

import (
	"context"
	"sync"
)

// Well-known keys the update daemon and web API exchange.
const (
	KeyUpdateRequest = "update:request"
	KeyUpdateStatus  = "update:status"
	KeyUpdateResult  = "update:result"
)

type entry struct {
	value   any
	version uint64
}

// Channel is a mutex-guarded map with change notification: callers can
// block until a key's value changes past a version they've already seen,
// which is how the web API polls update status without a dedicated
// pub/sub dependency.
type Channel struct {
	mu      sync.Mutex
	entries map[string]entry
	waiters map[string][]chan struct{}
}

// New builds an empty Channel.
func New() *Channel {
	return &Channel{
		entries: make(map[string]entry),
		waiters: make(map[string][]chan struct{}),
	}
}

// Set stores value under key and wakes any goroutine blocked in Wait for
// that key.
func (c *Channel) Set(key string, value any) {
	c.mu.Lock()
	e := c.entries[key]
	e.value = value
	e.version++
	c.entries[key] = e
	waiters := c.waiters[key]
	delete(c.waiters, key)
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Get returns key's current value and version, and whether it has ever
// been set.
func (c *Channel) Get(key string) (value any, version uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.value, e.version, ok
}

// Wait blocks until key's version advances past sinceVersion or ctx is
// cancelled; a key that is never set keeps it blocked until cancellation.
// It returns the new value and version.
func (c *Channel) Wait(ctx context.Context, key string, sinceVersion uint64) (any, uint64, error) {
	for {
		c.mu.Lock()
		e, exists := c.entries[key]
		if exists && e.version > sinceVersion {
			c.mu.Unlock()
			return e.value, e.version, nil
		}

		ready := make(chan struct{})
		c.waiters[key] = append(c.waiters[key], ready)
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, sinceVersion, ctx.Err()
		}
	}
}
