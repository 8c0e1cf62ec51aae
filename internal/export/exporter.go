package export

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/instrument"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
	"github.com/drivetrain-rt/drivetrain/internal/shared/id"
	"go.uber.org/zap"
)

// Sink receives finished batches. Implementations may be slow; the
// exporter isolates them behind the bounded buffer.
type Sink interface {
	Ship(ctx context.Context, batch *Batch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch *Batch) error

// Ship implements Sink.
func (f SinkFunc) Ship(ctx context.Context, batch *Batch) error { return f(ctx, batch) }

// DefaultExportInterval is used when none is configured.
const DefaultExportInterval = 5 * time.Second

// DefaultBufferSize is the bounded buffer depth between collection and
// shipping.
const DefaultBufferSize = 8

// Exporter periodically collects an immutable batch from the registry and
// fans it out. Collection runs on a scheduled unit so it is itself
// measured; shipping runs on a plain goroutine off the core so a slow
// transport can never stall a measured unit.
type Exporter struct {
	registry *instrument.Registry
	bridge   *Bridge
	unit     *sched.Unit
	interval time.Duration

	sinks   []Sink
	buffer  chan *Batch
	dropped atomic.Uint64

	shipWG sync.WaitGroup
	log    *logging.Logger
}

// Config configures the exporter.
type Config struct {
	Interval   time.Duration
	BufferSize int
}

// New creates an exporter. The bridge is always applied synchronously at
// collection time (it is just gauge stores); sinks added with AddSink get
// the buffered path.
func New(cfg Config, registry *instrument.Registry, bridge *Bridge, unit *sched.Unit, log *logging.Logger) (*Exporter, error) {
	if registry == nil || bridge == nil || unit == nil {
		return nil, fmt.Errorf("export: registry, bridge, and unit are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultExportInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if log == nil {
		log = logging.NewNop()
	}

	return &Exporter{
		registry: registry,
		bridge:   bridge,
		unit:     unit,
		interval: cfg.Interval,
		buffer:   make(chan *Batch, cfg.BufferSize),
		log:      log.ForUnit(unit.Name()),
	}, nil
}

// AddSink registers a transport. Call before Start.
func (e *Exporter) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// Dropped returns how many batches were discarded under backpressure.
func (e *Exporter) Dropped() uint64 { return e.dropped.Load() }

// Unit returns the exporter's scheduled unit.
func (e *Exporter) Unit() *sched.Unit { return e.unit }

// Start launches the collection unit and the shipper goroutine.
func (e *Exporter) Start(ctx context.Context) {
	e.shipWG.Add(1)
	go e.shipper(ctx)
	e.unit.Start(ctx, e.run)
}

// Wait blocks until the shipper has drained after context cancellation.
func (e *Exporter) Wait() {
	e.shipWG.Wait()
}

func (e *Exporter) run(ctx context.Context) {
	e.log.Info("exporter started",
		zap.Duration("interval", e.interval),
		zap.Int("sinks", len(e.sinks)),
	)

	for {
		if err := e.unit.Sleep(ctx, e.interval); err != nil {
			break
		}

		batch := e.Collect()
		e.bridge.Apply(batch)
		e.unit.ProbeStack()

		if len(e.sinks) == 0 {
			continue
		}
		select {
		case e.buffer <- batch:
		default:
			// Transport backpressure: drop the whole batch, never stall.
			total := e.dropped.Add(1)
			e.bridge.RecordDropped(total)
			e.log.Warn("export buffer full, batch dropped", zap.Uint64("total_dropped", total))
		}
	}

	close(e.buffer)
	e.log.Info("exporter stopped", zap.Uint64("dropped", e.dropped.Load()))
}

func (e *Exporter) shipper(ctx context.Context) {
	defer e.shipWG.Done()

	for batch := range e.buffer {
		for _, sink := range e.sinks {
			if err := sink.Ship(ctx, batch); err != nil {
				e.log.Warn("sink rejected batch",
					zap.String("batch", batch.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Collect builds one immutable batch from the registry's current state.
func (e *Exporter) Collect() *Batch {
	now := time.Now().UnixNano()
	snaps := e.registry.Snapshots()
	chans := e.registry.ChannelStats()
	notifies := e.registry.NotifyStats()
	peeks := e.registry.PeekStats()

	samples := make([]Sample, 0, len(snaps)*3+len(chans)*3+len(notifies)+len(peeks)+2)

	for _, s := range snaps {
		samples = append(samples,
			Sample{Unit: s.Name, Metric: MetricCPUBusy, Value: s.CumRunTime.Seconds(), Timestamp: now},
			Sample{Unit: s.Name, Metric: MetricStackHeadroom, Value: float64(s.StackHeadroom), Timestamp: now},
			Sample{Unit: s.Name, Metric: MetricExecInterval, Value: s.LastInterval.Seconds(), Timestamp: now},
			Sample{Unit: s.Name, Metric: MetricFaults, Value: float64(s.Faults), Timestamp: now},
		)
	}
	for _, c := range chans {
		samples = append(samples,
			Sample{Unit: c.Name, Metric: MetricChannelDepth, Value: float64(c.Depth), Timestamp: now},
			Sample{Unit: c.Name, Metric: MetricChannelOverflow, Value: float64(c.Overflow), Timestamp: now},
			Sample{Unit: c.Name, Metric: MetricChannelHighWater, Value: float64(c.HighWater), Timestamp: now},
		)
	}
	for _, n := range notifies {
		samples = append(samples, Sample{Unit: n.Owner, Metric: MetricNotifyPending, Value: float64(n.Pending), Timestamp: now})
	}
	for _, p := range peeks {
		samples = append(samples, Sample{Unit: p.Name, Metric: MetricPeekSkipped, Value: float64(p.Skipped), Timestamp: now})
	}
	samples = append(samples,
		Sample{Metric: MetricSamplerLag, Value: e.registry.SamplerLag().Seconds(), Timestamp: now},
		Sample{Metric: MetricExportDropped, Value: float64(e.dropped.Load()), Timestamp: now},
	)

	return &Batch{
		ID:      id.NewBatchID().String(),
		At:      now,
		Samples: samples,
	}
}
