// Package driver implements the autonomous driver unit: a scheduled unit
// wrapping a hardware-facing acquisition step that emits fixed-size items
// exclusively through its own output channel and multicasts readiness via
// the notification sets of its registered consumers.
//
// A driver owns its timing. Consumers observe only the channel and their
// notification set, never the driver's scheduling. Transient acquisition
// faults are counted and survived; a configured run of consecutive faults
// degrades the driver, which then keeps running without producing until an
// explicit reset.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/notify"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
	"go.uber.org/zap"
)

// Item is the fixed-size data item a driver produces each cycle.
type Item struct {
	Seq        uint64  `json:"seq"`
	CapturedAt int64   `json:"captured_at"` // unix nanoseconds
	Value      float64 `json:"value"`
}

// ReadyBit is the notification bit multicast to consumers after each write.
const ReadyBit notify.Bit = 0

// Acquirer is the hardware-facing collaborator. Register programming lives
// behind this interface; the driver only requires that it eventually
// returns a value or a transient error.
type Acquirer interface {
	Acquire(ctx context.Context) (float64, error)
}

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(ctx context.Context) (float64, error)

// Acquire implements Acquirer.
func (f AcquirerFunc) Acquire(ctx context.Context) (float64, error) { return f(ctx) }

// State represents the driver's protocol state machine.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDegraded
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotDegraded is returned when resetting a driver that is not degraded.
var ErrNotDegraded = errors.New("driver: not degraded")

// Config holds the per-driver parameters resolved at initialization.
type Config struct {
	Name           string
	Period         time.Duration
	FaultThreshold uint64
}

// Driver is an autonomous producer bound to one scheduled unit and one
// output channel. All configuration is fixed at creation.
type Driver struct {
	name   string
	period time.Duration

	unit      *sched.Unit
	ring      *channel.Ring[Item]
	acquirer  Acquirer
	gate      *FaultGate
	control   *notify.Set
	consumers []*notify.Set

	state    atomic.Int32
	seq      atomic.Uint64
	produced atomic.Uint64
	faults   atomic.Uint64

	log *logging.Logger
}

// New creates a driver. The unit, channel, and acquirer are owned
// exclusively by this driver from here on.
func New(cfg Config, unit *sched.Unit, ring *channel.Ring[Item], acq Acquirer, log *logging.Logger) (*Driver, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("driver: name cannot be empty")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("driver %q: period must be positive, got %v", cfg.Name, cfg.Period)
	}
	if unit == nil || ring == nil || acq == nil {
		return nil, fmt.Errorf("driver %q: unit, channel, and acquirer are required", cfg.Name)
	}
	if log == nil {
		log = logging.NewNop()
	}

	d := &Driver{
		name:     cfg.Name,
		period:   cfg.Period,
		unit:     unit,
		ring:     ring,
		acquirer: acq,
		control:  notify.NewSet(cfg.Name, unit),
		log:      log.ForUnit(cfg.Name),
	}
	d.gate = NewFaultGate(cfg.FaultThreshold, d.onGateChange)
	d.state.Store(int32(StateInit))
	return d, nil
}

// Name returns the driver's configured name.
func (d *Driver) Name() string { return d.name }

// Unit returns the driver's scheduled unit.
func (d *Driver) Unit() *sched.Unit { return d.unit }

// Channel returns the driver's output channel.
func (d *Driver) Channel() *channel.Ring[Item] { return d.ring }

// State returns the driver's current state.
func (d *Driver) State() State { return State(d.state.Load()) }

// Faults returns the cumulative transient fault count.
func (d *Driver) Faults() uint64 { return d.faults.Load() }

// Produced returns the number of items written to the channel.
func (d *Driver) Produced() uint64 { return d.produced.Load() }

// Gate exposes the fault gate for inspection.
func (d *Driver) Gate() *FaultGate { return d.gate }

// Control returns the driver's control notification set.
func (d *Driver) Control() *notify.Set { return d.control }

// Source returns the acquirer this driver samples from.
func (d *Driver) Source() Acquirer { return d.acquirer }

// RegisterConsumer adds a consumer's notification set to the multicast
// list. Registration happens once at initialization; the list is fixed
// before Start.
func (d *Driver) RegisterConsumer(set *notify.Set) {
	d.consumers = append(d.consumers, set)
}

// RequestShutdown delivers the cooperative shutdown control notification.
// The driver completes at most one in-flight write cycle, then stops.
func (d *Driver) RequestShutdown() {
	d.control.Notify(notify.BitShutdown)
}

// Reset returns a degraded driver to production. Writes resume within one
// period. This is the only way out of the degraded state.
func (d *Driver) Reset() error {
	if !d.gate.Reset() {
		return fmt.Errorf("%w: %s is %s", ErrNotDegraded, d.name, d.State())
	}
	return nil
}

// Start launches the driver's unit.
func (d *Driver) Start(ctx context.Context) {
	d.unit.Start(ctx, d.run)
}

// Done is closed when the driver's unit has exited.
func (d *Driver) Done() <-chan struct{} { return d.unit.Done() }

func (d *Driver) run(ctx context.Context) {
	d.state.Store(int32(StateRunning))
	d.log.Info("driver started",
		zap.Duration("period", d.period),
		zap.String("channel", d.ring.Name()),
		zap.String("policy", d.ring.Policy().String()),
		zap.Uint64("fault_threshold", d.gate.Threshold()),
	)

	for {
		if err := d.unit.Sleep(ctx, d.period); err != nil {
			break
		}
		if d.control.Consume(notify.BitShutdown) {
			break
		}
		d.step(ctx)
		d.unit.ProbeStack()
	}

	d.state.Store(int32(StateStopped))
	d.log.Info("driver stopped", zap.Uint64("produced", d.produced.Load()))
}

// step runs one production cycle: acquire, transform, write, multicast.
// A degraded driver skips the cycle entirely but keeps cycling so it stays
// observable.
func (d *Driver) step(ctx context.Context) {
	if d.State() == StateDegraded {
		return
	}

	value, err := d.acquirer.Acquire(ctx)
	if err != nil {
		d.faults.Add(1)
		state := d.gate.Fail()
		d.log.Warn("transient acquisition fault",
			zap.Error(err),
			zap.Uint64("consecutive", d.gate.Counts().ConsecutiveFaults),
			zap.String("gate", state.String()),
		)
		return
	}
	d.gate.Success()

	item := Item{
		Seq:        d.seq.Add(1),
		CapturedAt: time.Now().UnixNano(),
		Value:      value,
	}

	result := d.ring.Write(item)
	d.produced.Add(1)
	if result != channel.Accepted {
		d.log.Debug("channel overflow on write",
			zap.Uint64("seq", item.Seq),
			zap.String("result", result.String()),
		)
	}

	for _, c := range d.consumers {
		c.Notify(ReadyBit)
	}
}

// onGateChange mirrors gate transitions into the driver state machine.
func (d *Driver) onGateChange(from, to GateState) {
	switch to {
	case GateDegraded:
		d.state.Store(int32(StateDegraded))
		d.log.Error("driver degraded after sustained faults",
			zap.Uint64("threshold", d.gate.Threshold()),
		)
	case GateProducing:
		if d.State() == StateDegraded {
			d.state.Store(int32(StateRunning))
			d.log.Info("driver reset, production resuming")
		}
	}
}
