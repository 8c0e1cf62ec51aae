package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drivetrain-rt/drivetrain/internal/shared/id"
)

var (
	// ErrTimeout is returned when a blocking read's timeout elapses.
	ErrTimeout = errors.New("channel: timeout")
	// ErrReceiverConflict is returned when a second consuming reader is
	// registered. This is a configuration fault, fatal at init.
	ErrReceiverConflict = errors.New("channel: consuming reader already registered")
	// ErrNoReceiver is returned by Receive on a channel without a
	// registered consuming reader.
	ErrNoReceiver = errors.New("channel: no consuming reader registered")
)

// Policy fixes how a full channel treats a write. Chosen at creation,
// never mixed.
type Policy int

const (
	// DropOldest overwrites the oldest item to make room.
	DropOldest Policy = iota
	// RejectNewest refuses the incoming item.
	RejectNewest
)

// String returns the string representation of the policy.
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case RejectNewest:
		return "reject_newest"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop_oldest":
		return DropOldest, nil
	case "reject_newest":
		return RejectNewest, nil
	default:
		return 0, fmt.Errorf("channel: unknown overflow policy %q", s)
	}
}

// WriteResult reports the outcome of a single write.
type WriteResult int

const (
	Accepted WriteResult = iota
	DroppedOldest
	RejectedOverflow
)

// String returns the string representation of the result.
func (r WriteResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DroppedOldest:
		return "dropped_oldest"
	case RejectedOverflow:
		return "rejected_overflow"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of channel health, safe to read while the
// producer is active.
type Stats struct {
	Name      string
	Policy    Policy
	Capacity  int
	Depth     int
	HighWater uint64
	Writes    uint64
	Overflow  uint64
}

// Observable is the read-only face a channel presents to instrumentation.
type Observable interface {
	Name() string
	Stats() Stats
}

// Ring is a fixed-capacity single-producer channel of homogeneous items.
// Exactly one goroutine (the owning driver unit) may call Write. Storage is
// allocated once at creation; the steady-state data path does not allocate.
type Ring[T any] struct {
	id       id.ChannelID
	name     string
	policy   Policy
	capacity uint64

	mu   sync.Mutex
	buf  []T
	gate chan struct{}

	// head is the next write sequence, tail the shared read cursor.
	// Mutated under mu, stored atomically so stats reads take no lock.
	head      atomic.Uint64
	tail      atomic.Uint64
	writes    atomic.Uint64
	overflow  atomic.Uint64
	highWater atomic.Uint64

	receiver *receiveConsumer
	peekers  []*peekState
}

// NewRing creates a channel with the given fixed capacity and policy.
func NewRing[T any](name string, capacity int, policy Policy) (*Ring[T], error) {
	if name == "" {
		return nil, fmt.Errorf("channel: name cannot be empty")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("channel: capacity must be positive, got %d", capacity)
	}
	if policy != DropOldest && policy != RejectNewest {
		return nil, fmt.Errorf("channel: invalid policy %d", policy)
	}
	return &Ring[T]{
		id:       id.NewChannelID(),
		name:     name,
		policy:   policy,
		capacity: uint64(capacity),
		buf:      make([]T, capacity),
		gate:     make(chan struct{}),
	}, nil
}

// ID returns the channel's generated ID.
func (r *Ring[T]) ID() id.ChannelID { return r.id }

// Name returns the channel's configured name.
func (r *Ring[T]) Name() string { return r.name }

// Policy returns the channel's fixed overflow policy.
func (r *Ring[T]) Policy() Policy { return r.policy }

// Write appends an item. Never blocks; O(1). On a full channel the fixed
// policy decides: DropOldest advances the shared cursor past the oldest
// item, RejectNewest refuses the new one. Both count as overflow.
func (r *Ring[T]) Write(item T) WriteResult {
	r.mu.Lock()

	r.writes.Add(1)
	head := r.head.Load()
	tail := r.tail.Load()

	result := Accepted
	if head-tail == r.capacity {
		r.overflow.Add(1)
		if r.policy == RejectNewest {
			r.mu.Unlock()
			return RejectedOverflow
		}
		tail++
		r.tail.Store(tail)
		result = DroppedOldest
	}

	r.buf[head%r.capacity] = item
	r.head.Store(head + 1)

	if depth := head + 1 - tail; depth > r.highWater.Load() {
		r.highWater.Store(depth)
	}

	gate := r.gate
	r.gate = make(chan struct{})
	r.mu.Unlock()

	// Wake every blocked reader.
	close(gate)
	return result
}

// Depth returns the number of unconsumed items.
func (r *Ring[T]) Depth() int {
	return int(r.head.Load() - r.tail.Load())
}

// Stats returns a lock-free snapshot of the channel counters. Values may be
// momentarily inconsistent with each other; instrumentation tolerates that
// in exchange for never perturbing the producer.
func (r *Ring[T]) Stats() Stats {
	head := r.head.Load()
	tail := r.tail.Load()
	return Stats{
		Name:      r.name,
		Policy:    r.policy,
		Capacity:  int(r.capacity),
		Depth:     int(head - tail),
		HighWater: r.highWater.Load(),
		Writes:    r.writes.Load(),
		Overflow:  r.overflow.Load(),
	}
}
