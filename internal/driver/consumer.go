package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/notify"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
	"go.uber.org/zap"
)

// ConsumerMode selects how a consumer reads the driver's channel.
type ConsumerMode int

const (
	// ModeReceive consumes items, advancing the shared cursor. At most one
	// per channel; this consumer paces the producer via channel occupancy.
	ModeReceive ConsumerMode = iota
	// ModePeek reads without consuming through an independent cursor.
	// Peek consumers are best-effort: a slow peeker skips items.
	ModePeek
)

// String returns the string representation of the mode.
func (m ConsumerMode) String() string {
	switch m {
	case ModeReceive:
		return "receive"
	case ModePeek:
		return "peek"
	default:
		return "unknown"
	}
}

// ParseConsumerMode converts a configuration string to a ConsumerMode.
func ParseConsumerMode(s string) (ConsumerMode, error) {
	switch s {
	case "receive":
		return ModeReceive, nil
	case "peek":
		return ModePeek, nil
	default:
		return 0, fmt.Errorf("driver: unknown consumer mode %q", s)
	}
}

// Handler processes one item on the consumer's unit.
type Handler func(Item)

// ConsumerConfig holds the per-consumer parameters resolved at init.
type ConsumerConfig struct {
	Name   string
	Mode   ConsumerMode
	Period time.Duration // poll pacing; 0 = wake on notification
}

// Consumer is a scheduled unit that reads one driver's channel, woken by
// its notification set or paced by a poll period.
type Consumer struct {
	name   string
	mode   ConsumerMode
	period time.Duration

	unit   *sched.Unit
	set    *notify.Set
	ring   *channel.Ring[Item]
	cursor *channel.PeekCursor[Item]

	handler  Handler
	consumed atomic.Uint64

	log *logging.Logger
}

// NewConsumer creates a consumer and registers it with the channel in the
// requested mode. A second ModeReceive consumer on the same channel fails
// here, at setup time.
func NewConsumer(cfg ConsumerConfig, unit *sched.Unit, ring *channel.Ring[Item], handler Handler, log *logging.Logger) (*Consumer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("driver: consumer name cannot be empty")
	}
	if unit == nil || ring == nil {
		return nil, fmt.Errorf("driver: consumer %q requires a unit and a channel", cfg.Name)
	}
	if log == nil {
		log = logging.NewNop()
	}

	c := &Consumer{
		name:    cfg.Name,
		mode:    cfg.Mode,
		period:  cfg.Period,
		unit:    unit,
		set:     notify.NewSet(cfg.Name, unit),
		ring:    ring,
		handler: handler,
		log:     log.ForUnit(cfg.Name),
	}

	switch cfg.Mode {
	case ModeReceive:
		if err := ring.RegisterReceiver(cfg.Name, unit); err != nil {
			return nil, err
		}
	case ModePeek:
		cursor, err := ring.RegisterPeeker(cfg.Name, unit)
		if err != nil {
			return nil, err
		}
		c.cursor = cursor
	default:
		return nil, fmt.Errorf("driver: consumer %q: invalid mode %d", cfg.Name, cfg.Mode)
	}
	return c, nil
}

// Name returns the consumer's configured name.
func (c *Consumer) Name() string { return c.name }

// Mode returns the consumer's read mode.
func (c *Consumer) Mode() ConsumerMode { return c.mode }

// Unit returns the consumer's scheduled unit.
func (c *Consumer) Unit() *sched.Unit { return c.unit }

// Set returns the consumer's notification set; the producing driver
// multicasts ReadyBit into it.
func (c *Consumer) Set() *notify.Set { return c.set }

// Cursor returns the peek cursor, or nil for a receive consumer.
func (c *Consumer) Cursor() *channel.PeekCursor[Item] { return c.cursor }

// Consumed returns how many items this consumer has handled.
func (c *Consumer) Consumed() uint64 { return c.consumed.Load() }

// RequestShutdown delivers the cooperative shutdown control notification.
func (c *Consumer) RequestShutdown() {
	c.set.Notify(notify.BitShutdown)
}

// Start launches the consumer's unit.
func (c *Consumer) Start(ctx context.Context) {
	c.unit.Start(ctx, c.run)
}

// Done is closed when the consumer's unit has exited.
func (c *Consumer) Done() <-chan struct{} { return c.unit.Done() }

func (c *Consumer) run(ctx context.Context) {
	c.log.Info("consumer started",
		zap.String("mode", c.mode.String()),
		zap.String("channel", c.ring.Name()),
		zap.Duration("period", c.period),
	)

	for {
		if c.period > 0 {
			// Poll pacing: sleep a period, then read whatever is there.
			if err := c.unit.Sleep(ctx, c.period); err != nil {
				break
			}
			if c.set.Consume(notify.BitShutdown) {
				break
			}
			c.set.Consume(ReadyBit)
		} else {
			// Notification pacing: wake on the driver's ready bit.
			mask, err := c.set.Wait(ctx, notify.TakeAll, time.Second)
			if err == notify.ErrTimeout {
				continue
			}
			if err != nil {
				break
			}
			if mask&notify.Mask(notify.BitShutdown) != 0 {
				break
			}
		}
		c.drain(ctx)
	}

	c.log.Info("consumer stopped", zap.Uint64("consumed", c.consumed.Load()))
}

// drain reads until the channel is empty. Notifications coalesce, so one
// wake may stand for several writes; stopping after a single item would
// leave depth creeping up by the coalesced remainder.
func (c *Consumer) drain(ctx context.Context) {
	for c.readOne(ctx) {
	}
}

// readOne takes at most one item without blocking and reports whether it
// got one; an empty channel is not an error.
func (c *Consumer) readOne(ctx context.Context) bool {
	var item Item
	var err error
	switch c.mode {
	case ModeReceive:
		item, err = c.ring.Receive(ctx, 0)
	case ModePeek:
		item, err = c.cursor.Peek(ctx, 0)
	}
	if err != nil {
		return false
	}

	c.consumed.Add(1)
	if c.handler != nil {
		c.handler(item)
	}
	c.unit.ProbeStack()
	return true
}
