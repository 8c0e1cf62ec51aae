package driver

import (
	"sync"
)

// GateState tracks whether a driver may produce items.
type GateState int

const (
	// GateProducing is the normal operating state.
	GateProducing GateState = iota
	// GateDegraded is entered after sustained faults; production stops but
	// the unit keeps running for observability. Left only by explicit reset.
	GateDegraded
)

// String returns the string representation of the state.
func (s GateState) String() string {
	switch s {
	case GateProducing:
		return "producing"
	case GateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// FaultCounts holds the statistics tracked by a fault gate.
type FaultCounts struct {
	Attempts          uint64
	Successes         uint64
	Faults            uint64
	ConsecutiveFaults uint64
}

// FaultGate decides when sustained transient faults degrade a driver.
// A configurable run of consecutive faults trips the gate into GateDegraded;
// unlike a circuit breaker there is no half-open probe — only an explicit
// Reset restores production.
type FaultGate struct {
	threshold uint64
	onChange  func(from, to GateState)

	mu     sync.Mutex
	state  GateState
	counts FaultCounts
}

// DefaultFaultThreshold is assumed when a gate is created without one.
const DefaultFaultThreshold = 5

// NewFaultGate creates a gate that trips after threshold consecutive
// faults. onChange, if non-nil, is called on every state transition.
func NewFaultGate(threshold uint64, onChange func(from, to GateState)) *FaultGate {
	if threshold == 0 {
		threshold = DefaultFaultThreshold
	}
	return &FaultGate{
		threshold: threshold,
		onChange:  onChange,
		state:     GateProducing,
	}
}

// Threshold returns the configured consecutive-fault threshold.
func (g *FaultGate) Threshold() uint64 { return g.threshold }

// State returns the current gate state.
func (g *FaultGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Counts returns a copy of the internal counts.
func (g *FaultGate) Counts() FaultCounts {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts
}

// Success records a successful acquisition, breaking any fault run.
func (g *FaultGate) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts.Attempts++
	g.counts.Successes++
	g.counts.ConsecutiveFaults = 0
}

// Fail records a transient fault and returns the resulting state. Reaching
// the threshold trips the gate into GateDegraded.
func (g *FaultGate) Fail() GateState {
	g.mu.Lock()

	g.counts.Attempts++
	g.counts.Faults++
	g.counts.ConsecutiveFaults++

	if g.state == GateProducing && g.counts.ConsecutiveFaults >= g.threshold {
		g.state = GateDegraded
		g.mu.Unlock()
		g.notify(GateProducing, GateDegraded)
		return GateDegraded
	}

	state := g.state
	g.mu.Unlock()
	return state
}

// Reset returns a degraded gate to production. Reports whether a
// transition happened; resetting a producing gate is a no-op.
func (g *FaultGate) Reset() bool {
	g.mu.Lock()

	if g.state != GateDegraded {
		g.mu.Unlock()
		return false
	}
	g.state = GateProducing
	g.counts.ConsecutiveFaults = 0
	g.mu.Unlock()

	g.notify(GateDegraded, GateProducing)
	return true
}

func (g *FaultGate) notify(from, to GateState) {
	if g.onChange != nil {
		g.onChange(from, to)
	}
}
