// Package gate holds work back until a set of readiness conditions is met.
//
// A Gate has a fixed number of boolean checks. Tasks submitted with Run are queued
// and only start once every check is true. They then run strictly in submission
// order, one at a time: the next task starts after the previous one returns. Clearing
// a check pauses the queue without touching the task that is already running.
//
//	g := gate.New(2)             // 0: socket ready, 1: handshake done
//	f := g.Run(func(ctx context.Context) (any, error) { return client.call(ctx) })
//	_ = g.Check(0)
//	_ = g.Check(1)               // f starts now
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/erc7824/nitrolite/rpccore/pkg/correlator"
)

var (
	// ErrGateClosed rejects tasks that were queued, or submitted, after Close.
	ErrGateClosed = errors.New("gate closed")
	// ErrCheckOutOfRange is returned for a check index outside [0, count).
	ErrCheckOutOfRange = errors.New("check index out of range")
	// ErrUnexpectedResult is returned by Do when a task result has the wrong type.
	ErrUnexpectedResult = errors.New("unexpected task result type")
)

// Task is a unit of work admitted by the gate.
type Task func(ctx context.Context) (any, error)

type queued struct {
	task   Task
	future *correlator.Future[any]
}

// Gate is a FIFO task queue guarded by readiness checks.
type Gate struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	checks  []bool
	queue   []queued
	running bool
	closed  bool
}

// New returns a gate with count checks, all cleared.
func New(count int) *Gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		ctx:    ctx,
		cancel: cancel,
		checks: make([]bool, count),
	}
}

// Check sets check i and starts draining if every check is now set.
func (g *Gate) Check(i int) error {
	if err := g.set(i, true); err != nil {
		return err
	}
	g.drain()
	return nil
}

// Uncheck clears check i. Queued tasks wait; a running task is unaffected.
func (g *Gate) Uncheck(i int) error {
	return g.set(i, false)
}

// UncheckAll clears every check.
func (g *Gate) UncheckAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.checks {
		g.checks[i] = false
	}
}

func (g *Gate) set(i int, v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i < 0 || i >= len(g.checks) {
		return fmt.Errorf("%w: %d of %d", ErrCheckOutOfRange, i, len(g.checks))
	}
	g.checks[i] = v
	return nil
}

// Open reports whether every check is set.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.openLocked()
}

func (g *Gate) openLocked() bool {
	for _, c := range g.checks {
		if !c {
			return false
		}
	}
	return true
}

// Pending returns the number of queued tasks that have not started.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.queue)
}

// Run queues task and returns the future of its result.
func (g *Gate) Run(task Task) *correlator.Future[any] {
	f := correlator.NewFuture[any]()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		f.Reject(ErrGateClosed)
		return f
	}
	g.queue = append(g.queue, queued{task: task, future: f})
	g.mu.Unlock()

	g.drain()
	return f
}

func (g *Gate) drain() {
	g.mu.Lock()
	if g.running || g.closed || len(g.queue) == 0 || !g.openLocked() {
		g.mu.Unlock()
		return
	}
	next := g.queue[0]
	g.queue[0] = queued{}
	g.queue = g.queue[1:]
	g.running = true
	g.mu.Unlock()

	go func() {
		v, err := runTask(g.ctx, next.task)
		if err != nil {
			next.future.Reject(err)
		} else {
			next.future.Resolve(v)
		}

		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		g.drain()
	}()
}

func runTask(ctx context.Context, task Task) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Close rejects every queued task with ErrGateClosed and refuses new ones. The context
// handed to a running task is cancelled.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	queue := g.queue
	g.queue = nil
	g.mu.Unlock()

	g.cancel()
	for _, q := range queue {
		q.future.Reject(ErrGateClosed)
	}
}

// Do runs task through g and waits for its typed result. A done ctx stops the wait
// only; the task keeps its place in the queue.
func Do[T any](ctx context.Context, g *Gate, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	f := g.Run(func(ctx context.Context) (any, error) {
		return task(ctx)
	})

	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedResult, v)
	}
	return typed, nil
}
