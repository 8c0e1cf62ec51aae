package instrument

import (
	"math"
	"sync/atomic"
	"time"
)

// intervalWindow is the number of recent inter-execution intervals retained
// per record for the sampler's statistics pass.
const intervalWindow = 64

// Record holds one scheduled unit's statistics. Mutated only by the
// registry's switch hook and the sampler; read-only to everything else.
// All fields are atomics so reads never block the measured unit.
type Record struct {
	name string

	// Hook-maintained.
	cumRunNs     atomic.Int64
	switchedInAt atomic.Int64 // ns since epoch; 0 = not running
	execCount    atomic.Uint64
	lastExecAt   atomic.Int64
	minInterval  atomic.Int64
	maxInterval  atomic.Int64
	lastInterval atomic.Int64

	// Ring of recent intervals in seconds, stored as float64 bits.
	intervals    [intervalWindow]atomic.Uint64
	intervalHead atomic.Uint64

	// Sampler-maintained.
	intervalMean   atomic.Uint64 // float64 bits, seconds
	intervalStddev atomic.Uint64
	stackHighWater atomic.Int64
	stackHeadroom  atomic.Int64
	stackSamples   atomic.Uint64
	faults         atomic.Uint64
}

// Snapshot is an immutable copy of a record's values.
type Snapshot struct {
	Name           string        `json:"name"`
	CumRunTime     time.Duration `json:"cum_run_time"`
	ExecCount      uint64        `json:"exec_count"`
	LastExecAt     int64         `json:"last_exec_at"`
	MinInterval    time.Duration `json:"min_interval"`
	MaxInterval    time.Duration `json:"max_interval"`
	LastInterval   time.Duration `json:"last_interval"`
	IntervalMean   float64       `json:"interval_mean_seconds"`
	IntervalStddev float64       `json:"interval_stddev_seconds"`
	StackHighWater int64         `json:"stack_high_water_bytes"`
	StackHeadroom  int64         `json:"stack_headroom_bytes"`
	StackSamples   uint64        `json:"stack_samples"`
	Faults         uint64        `json:"faults"`
}

// Name returns the unit name the record is bound to.
func (r *Record) Name() string { return r.name }

// Snapshot copies the record. Values are each atomically read but not
// mutually consistent; slight staleness is part of the contract.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Name:           r.name,
		CumRunTime:     time.Duration(r.cumRunNs.Load()),
		ExecCount:      r.execCount.Load(),
		LastExecAt:     r.lastExecAt.Load(),
		MinInterval:    time.Duration(r.minInterval.Load()),
		MaxInterval:    time.Duration(r.maxInterval.Load()),
		LastInterval:   time.Duration(r.lastInterval.Load()),
		IntervalMean:   math.Float64frombits(r.intervalMean.Load()),
		IntervalStddev: math.Float64frombits(r.intervalStddev.Load()),
		StackHighWater: r.stackHighWater.Load(),
		StackHeadroom:  r.stackHeadroom.Load(),
		StackSamples:   r.stackSamples.Load(),
		Faults:         r.faults.Load(),
	}
}

// switchIn records a core grant at t.
func (r *Record) switchIn(t time.Time) {
	now := t.UnixNano()
	r.switchedInAt.Store(now)
	r.execCount.Add(1)

	last := r.lastExecAt.Swap(now)
	if last == 0 {
		return
	}

	interval := now - last
	r.lastInterval.Store(interval)
	updateMin(&r.minInterval, interval)
	updateMax(&r.maxInterval, interval)

	slot := (r.intervalHead.Add(1) - 1) % intervalWindow
	r.intervals[slot].Store(math.Float64bits(float64(interval) / 1e9))
}

// switchOut attributes the elapsed slice at t.
func (r *Record) switchOut(t time.Time) {
	started := r.switchedInAt.Swap(0)
	if started > 0 {
		r.cumRunNs.Add(t.UnixNano() - started)
	}
}

// intervalSamples copies the retained interval ring, oldest first not
// guaranteed; order does not matter to the moment statistics.
func (r *Record) intervalSamples() []float64 {
	n := r.intervalHead.Load()
	if n > intervalWindow {
		n = intervalWindow
	}
	out := make([]float64, 0, n)
	for i := uint64(0); i < n; i++ {
		if bits := r.intervals[i].Load(); bits != 0 {
			out = append(out, math.Float64frombits(bits))
		}
	}
	return out
}

func updateMin(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if cur != 0 && cur <= v {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

func updateMax(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if cur >= v {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}
