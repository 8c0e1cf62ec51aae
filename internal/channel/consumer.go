package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/sched"
)

// receiveConsumer tracks the single registered consuming reader.
type receiveConsumer struct {
	name string
	unit *sched.Unit
}

// peekState is the shared part of a peek cursor.
type peekState struct {
	name    string
	unit    *sched.Unit
	skipped atomic.Uint64
}

// RegisterReceiver designates the one consuming reader. A second
// registration fails fast: multiple consuming readers would partition the
// sequence non-deterministically, so the conflict is rejected at setup time.
func (r *Ring[T]) RegisterReceiver(name string, u *sched.Unit) error {
	if name == "" {
		return fmt.Errorf("channel: receiver name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.receiver != nil {
		return fmt.Errorf("%w: %q requested by %q", ErrReceiverConflict, r.receiver.name, name)
	}
	r.receiver = &receiveConsumer{name: name, unit: u}
	return nil
}

// RegisterPeeker adds a peek-only reader and returns its cursor. Peekers
// are unlimited; each sees the sequence through an independent cursor.
func (r *Ring[T]) RegisterPeeker(name string, u *sched.Unit) (*PeekCursor[T], error) {
	if name == "" {
		return nil, fmt.Errorf("channel: peeker name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state := &peekState{name: name, unit: u}
	r.peekers = append(r.peekers, state)
	return &PeekCursor[T]{ring: r, state: state, next: r.tail.Load()}, nil
}

// Receive removes and returns the oldest unconsumed item, advancing the
// shared cursor. Only the registered consuming reader may call this, from
// its own unit goroutine. A non-positive timeout makes the call
// non-blocking; otherwise the unit suspends with zero CPU use until an item
// arrives or the timeout elapses.
func (r *Ring[T]) Receive(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	r.mu.Lock()
	consumer := r.receiver
	r.mu.Unlock()
	if consumer == nil {
		return zero, ErrNoReceiver
	}

	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		expired = timer.C
		defer timer.Stop()
	}

	for {
		r.mu.Lock()
		head := r.head.Load()
		tail := r.tail.Load()
		if head > tail {
			item := r.buf[tail%r.capacity]
			r.tail.Store(tail + 1)
			r.mu.Unlock()
			return item, nil
		}
		gate := r.gate
		r.mu.Unlock()

		if timeout <= 0 {
			return zero, ErrTimeout
		}

		if err := waitGate(ctx, consumer.unit, gate, expired); err != nil {
			return zero, err
		}
	}
}

// PeekCursor is one peek-only reader's view of a channel. Reading advances
// only this cursor; the shared cursor and other readers are unaffected.
// A cursor falling behind an overwrite is snapped forward to the oldest
// item still buffered and the loss recorded, so slow peekers are lossy
// but observably so. Items consumed by the receiving reader remain
// visible to peekers until the producer overwrites them.
type PeekCursor[T any] struct {
	ring  *Ring[T]
	state *peekState
	next  uint64
}

// Name returns the peeker's registered name.
func (c *PeekCursor[T]) Name() string { return c.state.name }

// Skipped returns how many items this cursor never saw because they were
// overwritten before it caught up.
func (c *PeekCursor[T]) Skipped() uint64 { return c.state.skipped.Load() }

// Peek returns the oldest item this cursor has not seen, without consuming
// it. Blocking semantics match Receive.
func (c *PeekCursor[T]) Peek(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	r := c.ring

	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		expired = timer.C
		defer timer.Stop()
	}

	for {
		r.mu.Lock()
		head := r.head.Load()
		// Snap the cursor to the oldest slot still in the buffer. Items
		// taken by the consuming reader stay readable until overwritten,
		// so only genuinely lost items count as skipped.
		if head > r.capacity {
			if oldest := head - r.capacity; c.next < oldest {
				c.state.skipped.Add(oldest - c.next)
				c.next = oldest
			}
		}
		if c.next < head {
			item := r.buf[c.next%r.capacity]
			c.next++
			r.mu.Unlock()
			return item, nil
		}
		gate := r.gate
		r.mu.Unlock()

		if timeout <= 0 {
			return zero, ErrTimeout
		}

		if err := waitGate(ctx, c.state.unit, gate, expired); err != nil {
			return zero, err
		}
	}
}

// waitGate suspends the calling unit until the channel signals a write, the
// timeout elapses, or the context is cancelled. The unit holds the core
// slot again on return. A nil unit waits without core bookkeeping, which
// only tests use.
func waitGate(ctx context.Context, u *sched.Unit, gate <-chan struct{}, expired <-chan time.Time) error {
	if u != nil {
		u.Suspend()
		defer u.Resume()
	}
	select {
	case <-gate:
		return nil
	case <-expired:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
