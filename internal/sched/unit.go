package sched

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/drivetrain-rt/drivetrain/internal/shared/id"
)

// State represents the lifecycle state of a scheduled unit.
type State int32

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateWaiting
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultStackBudget is assumed when a unit is registered without one.
const DefaultStackBudget = 128 * 1024

// Unit is a preemptible, priority-ordered execution context. A unit executes
// only while holding the scheduler's core slot; every blocking operation
// releases the slot so suspended units consume no cycles.
type Unit struct {
	id          id.UnitID
	name        string
	priority    int
	stackBudget int

	sched *Scheduler
	state atomic.Int32
	grant chan struct{}
	done  chan struct{}

	// Stack self-measurement. stackBase is the address of a marker local
	// captured at goroutine entry; ProbeStack computes the distance to a
	// fresh marker. The Go runtime may relocate a stack, so the high-water
	// mark is an estimate, which is sufficient for headroom alerting.
	stackBase atomic.Uintptr
	stackHigh atomic.Int64
}

// ID returns the unit's generated ID.
func (u *Unit) ID() id.UnitID { return u.id }

// Name returns the unit's configured name.
func (u *Unit) Name() string { return u.name }

// Priority returns the unit's priority. Higher values run first.
func (u *Unit) Priority() int { return u.priority }

// StackBudget returns the unit's configured stack budget in bytes.
func (u *Unit) StackBudget() int { return u.stackBudget }

// State returns the unit's current lifecycle state.
func (u *Unit) State() State { return State(u.state.Load()) }

// Done is closed when the unit's goroutine has exited.
func (u *Unit) Done() <-chan struct{} { return u.done }

// StackHighWater returns the largest observed stack usage in bytes.
func (u *Unit) StackHighWater() int64 { return u.stackHigh.Load() }

// StackHeadroom returns the estimated unused stack budget in bytes.
func (u *Unit) StackHeadroom() int64 {
	head := int64(u.stackBudget) - u.stackHigh.Load()
	if head < 0 {
		head = 0
	}
	return head
}

// Start launches the unit's goroutine. The body runs while holding the core
// slot; it must use Sleep or the blocking channel/notify operations for all
// waiting so the core is released at every suspension point.
func (u *Unit) Start(ctx context.Context, body func(ctx context.Context)) {
	u.state.Store(int32(StateReady))
	u.sched.wg.Add(1)
	go func() {
		defer u.sched.wg.Done()
		defer close(u.done)

		var marker byte
		u.stackBase.Store(uintptr(unsafe.Pointer(&marker)))

		u.sched.acquire(u)
		u.state.Store(int32(StateRunning))
		body(ctx)
		u.state.Store(int32(StateStopped))
		u.sched.release(u)
	}()
}

// Sleep suspends the unit for d, releasing the core slot for the duration.
// Returns ctx.Err() if the context was cancelled while sleeping; the core
// slot is held again on return either way.
func (u *Unit) Sleep(ctx context.Context, d time.Duration) error {
	u.Suspend()
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	u.Resume()
	return ctx.Err()
}

// Suspend releases the core slot. Must be called from the unit's goroutine,
// paired with Resume.
func (u *Unit) Suspend() {
	u.state.Store(int32(StateWaiting))
	u.sched.release(u)
}

// Resume blocks until the core slot is granted back to this unit.
func (u *Unit) Resume() {
	u.sched.acquire(u)
	u.state.Store(int32(StateRunning))
}

// ProbeStack records the current stack usage estimate and returns the
// high-water mark. Call from the unit's goroutine at its deepest point;
// the driver loop does this once per production cycle.
func (u *Unit) ProbeStack() int64 {
	var marker byte
	base := u.stackBase.Load()
	cur := uintptr(unsafe.Pointer(&marker))
	if base != 0 && cur < base {
		used := int64(base - cur)
		for {
			prev := u.stackHigh.Load()
			if used <= prev || u.stackHigh.CompareAndSwap(prev, used) {
				break
			}
		}
	}
	return u.stackHigh.Load()
}
