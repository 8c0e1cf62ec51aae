// Package notify provides the per-consumer coalesced event flag used to
// wake a scheduled unit without payload transfer.
//
// A Set is a 64-bit pending mask bound to exactly one consumer unit.
// Notify sets a bit idempotently and never blocks; repeated notifies of the
// same bit before a consume coalesce into one. Wait blocks the consumer
// with zero CPU use until a bit is pending. A notify that arrives while the
// consumer is not waiting stays pending until the next Wait, so delivery is
// at-least-once-observable.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/sched"
)

// ErrTimeout is returned when a Wait's timeout elapses with nothing pending.
var ErrTimeout = errors.New("notify: timeout")

// Bit identifies one event flag within a set. Bits 0..62 are free for
// application use; bit 63 is reserved for the shutdown control event.
type Bit uint

// BitShutdown is the reserved cooperative-shutdown control bit.
const BitShutdown Bit = 63

// MaxBit is the highest usable application bit.
const MaxBit Bit = 62

// Mode selects how Wait consumes pending bits.
type Mode int

const (
	// TakeOne clears and returns exactly one pending bit (the lowest).
	TakeOne Mode = iota
	// TakeAll clears and returns the full pending mask.
	TakeAll
)

// Set is the notification state bound to one consumer unit.
type Set struct {
	owner string
	unit  *sched.Unit

	mu      sync.Mutex
	gate    chan struct{}
	pending atomic.Uint64
}

// NewSet creates a notification set bound to the named consumer. The unit
// may be nil in tests; production consumers pass their scheduled unit so
// waits release the core slot.
func NewSet(owner string, u *sched.Unit) *Set {
	return &Set{
		owner: owner,
		unit:  u,
		gate:  make(chan struct{}),
	}
}

// Owner returns the bound consumer's name.
func (s *Set) Owner() string { return s.owner }

// Pending returns the number of distinct pending bits.
func (s *Set) Pending() int {
	return bits.OnesCount64(s.pending.Load())
}

// PendingMask returns the raw pending mask without consuming it.
func (s *Set) PendingMask() uint64 { return s.pending.Load() }

// Notify sets a bit. Idempotent and non-blocking; callable from any unit
// context including the producing driver's write path.
func (s *Set) Notify(b Bit) {
	if b > BitShutdown {
		return
	}

	s.mu.Lock()
	prev := s.pending.Load()
	mask := prev | 1<<uint(b)
	if mask == prev {
		// Coalesced: the bit was already pending.
		s.mu.Unlock()
		return
	}
	s.pending.Store(mask)
	gate := s.gate
	s.gate = make(chan struct{})
	s.mu.Unlock()

	close(gate)
}

// Consume atomically clears the given bit if pending, reporting whether it
// was. Non-blocking; drivers use this to poll the shutdown control bit
// between production cycles.
func (s *Set) Consume(b Bit) bool {
	if b > BitShutdown {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.pending.Load()
	bit := uint64(1) << uint(b)
	if prev&bit == 0 {
		return false
	}
	s.pending.Store(prev &^ bit)
	return true
}

// Wait blocks the consumer until at least one bit is pending, then consumes
// per mode: TakeOne clears and returns exactly one pending bit, TakeAll
// clears and returns the whole mask. A non-positive timeout makes the call
// non-blocking. The consumer's unit is suspended for the duration of any
// block, so waiting costs no cycles.
func (s *Set) Wait(ctx context.Context, mode Mode, timeout time.Duration) (uint64, error) {
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		expired = timer.C
		defer timer.Stop()
	}

	for {
		s.mu.Lock()
		prev := s.pending.Load()
		if prev != 0 {
			var taken uint64
			switch mode {
			case TakeOne:
				taken = prev & -prev // lowest set bit
				s.pending.Store(prev &^ taken)
			case TakeAll:
				taken = prev
				s.pending.Store(0)
			default:
				s.mu.Unlock()
				return 0, fmt.Errorf("notify: unknown wait mode %d", mode)
			}
			s.mu.Unlock()
			return taken, nil
		}
		gate := s.gate
		s.mu.Unlock()

		if timeout <= 0 {
			return 0, ErrTimeout
		}

		if err := s.block(ctx, gate, expired); err != nil {
			return 0, err
		}
	}
}

func (s *Set) block(ctx context.Context, gate <-chan struct{}, expired <-chan time.Time) error {
	if s.unit != nil {
		s.unit.Suspend()
		defer s.unit.Resume()
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

// Mask builds a mask from bits, for asserting on Wait results.
func Mask(bs ...Bit) uint64 {
	var m uint64
	for _, b := range bs {
		if b <= BitShutdown {
			m |= 1 << uint(b)
		}
	}
	return m
}
