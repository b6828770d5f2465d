// Package correlator matches asynchronous replies to the requests that caused them.
//
// A Correlator maps a key (usually a request ID) to a Future. The sender registers
// the key before the request leaves, the receiving side resolves or rejects it when
// the reply arrives, and the entry is dropped on the first settlement. Every
// registered key therefore settles exactly once: by a reply, by an explicit reject,
// or by Dispose.
package correlator

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is the default teardown error of Dispose.
	ErrClosed = errors.New("correlator closed")
	// ErrDuplicateKey is returned when registering a key that is still pending.
	ErrDuplicateKey = errors.New("key already pending")
)

type entry[T any] struct {
	future  *Future[T]
	payload any
}

// Correlator tracks pending futures by key. The zero value is not usable; use New.
type Correlator[K comparable, T any] struct {
	mu       sync.Mutex
	pending  map[K]entry[T]
	disposed error
}

// New returns an empty correlator.
func New[K comparable, T any]() *Correlator[K, T] {
	return &Correlator[K, T]{pending: make(map[K]entry[T])}
}

// Register adds a pending entry for key.
func (c *Correlator[K, T]) Register(key K) (*Future[T], error) {
	return c.RegisterWith(key, nil)
}

// RegisterWith adds a pending entry for key that also carries payload, typically the
// request itself, retrievable with Payload until the entry settles.
func (c *Correlator[K, T]) RegisterWith(key K, payload any) (*Future[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed != nil {
		return nil, c.disposed
	}
	if _, ok := c.pending[key]; ok {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}

	f := NewFuture[T]()
	c.pending[key] = entry[T]{future: f, payload: payload}
	return f, nil
}

// Resolve settles key with v. It reports whether an entry was pending.
func (c *Correlator[K, T]) Resolve(key K, v T) bool {
	e, ok := c.take(key)
	if !ok {
		return false
	}
	return e.future.Resolve(v)
}

// Reject settles key with err. It reports whether an entry was pending.
func (c *Correlator[K, T]) Reject(key K, err error) bool {
	e, ok := c.take(key)
	if !ok {
		return false
	}
	return e.future.Reject(err)
}

// Forget drops key without settling it.
func (c *Correlator[K, T]) Forget(key K) {
	c.take(key)
}

func (c *Correlator[K, T]) take(key K) (entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return e, ok
}

// Payload returns the payload registered with key.
func (c *Correlator[K, T]) Payload(key K) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[key]
	return e.payload, ok
}

// Has reports whether key is pending.
func (c *Correlator[K, T]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pending[key]
	return ok
}

// Keys returns a snapshot of the pending keys in no particular order.
func (c *Correlator[K, T]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of pending entries.
func (c *Correlator[K, T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// RejectAll rejects every pending entry with err and keeps the correlator usable.
// It returns the number of entries rejected.
func (c *Correlator[K, T]) RejectAll(err error) int {
	return len(c.drain(err, false))
}

// Dispose rejects every pending entry with err (ErrClosed when nil). Later calls to
// Register fail with the same error. Dispose is idempotent.
func (c *Correlator[K, T]) Dispose(err error) {
	if err == nil {
		err = ErrClosed
	}
	c.drain(err, true)
}

func (c *Correlator[K, T]) drain(err error, dispose bool) []entry[T] {
	c.mu.Lock()
	if dispose && c.disposed == nil {
		c.disposed = err
	}
	entries := make([]entry[T], 0, len(c.pending))
	for k, e := range c.pending {
		entries = append(entries, e)
		delete(c.pending, k)
	}
	c.mu.Unlock()

	for _, e := range entries {
		e.future.Reject(err)
	}
	return entries
}
