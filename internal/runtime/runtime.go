package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/acquire"
	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/config"
	"github.com/drivetrain-rt/drivetrain/internal/driver"
	"github.com/drivetrain-rt/drivetrain/internal/export"
	"github.com/drivetrain-rt/drivetrain/internal/instrument"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
	"github.com/drivetrain-rt/drivetrain/internal/server"
	"github.com/drivetrain-rt/drivetrain/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Housekeeping units run below every driver and consumer so measurement
// never preempts measured work.
const (
	samplerPriority  = -100
	exporterPriority = -90
)

// Runtime is the assembled system: scheduler, drivers, consumers,
// sampler, exporter, and the streaming sink.
type Runtime struct {
	scheduler *sched.Scheduler
	registry  *instrument.Registry
	bridge    *export.Bridge
	promReg   *prometheus.Registry
	sampler   *instrument.Sampler
	exporter  *export.Exporter
	streamer  *ws.Streamer

	drivers   map[string]*driver.Driver
	consumers []*driver.Consumer

	cancel context.CancelFunc
	log    *logging.Logger
}

// Build wires the full system from configuration. The table must already
// be validated; Build re-validates so a hand-built table cannot slip
// through half-checked.
func Build(cfg *config.Config, table *config.Table, log *logging.Logger) (*Runtime, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	registry := instrument.NewRegistry(log)
	scheduler := sched.New(log, registry)
	promReg := prometheus.NewRegistry()

	rt := &Runtime{
		scheduler: scheduler,
		registry:  registry,
		bridge:    export.NewBridge(promReg),
		promReg:   promReg,
		streamer:  ws.NewStreamer(log),
		drivers:   make(map[string]*driver.Driver),
		log:       log,
	}

	for i := range table.Drivers {
		if err := rt.buildDriver(&table.Drivers[i]); err != nil {
			return nil, err
		}
	}

	samplerUnit, err := scheduler.Register("sampler", samplerPriority, 0)
	if err != nil {
		return nil, err
	}
	if _, err := registry.RegisterUnit(samplerUnit); err != nil {
		return nil, err
	}
	rt.sampler, err = instrument.NewSampler(registry, samplerUnit, cfg.Sampler.Interval, log)
	if err != nil {
		return nil, err
	}

	exporterUnit, err := scheduler.Register("exporter", exporterPriority, 0)
	if err != nil {
		return nil, err
	}
	if _, err := registry.RegisterUnit(exporterUnit); err != nil {
		return nil, err
	}
	rt.exporter, err = export.New(export.Config{
		Interval:   cfg.Export.Interval,
		BufferSize: cfg.Export.BufferSize,
	}, registry, rt.bridge, exporterUnit, log)
	if err != nil {
		return nil, err
	}
	rt.exporter.AddSink(rt.streamer)

	if cfg.Export.PushURL != "" {
		push, err := export.NewPushSink(export.PushConfig{
			URL:          cfg.Export.PushURL,
			GzipPayloads: cfg.Export.PushGzip,
			RatePerSec:   cfg.Export.PushRate,
		}, log)
		if err != nil {
			return nil, err
		}
		rt.exporter.AddSink(push)
	}

	log.Info("runtime assembled",
		zap.Int("drivers", len(rt.drivers)),
		zap.Int("consumers", len(rt.consumers)),
	)
	return rt, nil
}

// buildDriver creates one driver with its channel and consumers. The
// table was validated up front, so a conflict here (a second receive
// consumer, a duplicate unit name) is a bug, not a configuration error.
func (rt *Runtime) buildDriver(spec *config.DriverSpec) error {
	unit, err := rt.scheduler.Register(spec.Name, spec.Priority, spec.StackBudget)
	if err != nil {
		return err
	}
	if _, err := rt.registry.RegisterUnit(unit); err != nil {
		return err
	}

	policy, err := channel.ParsePolicy(spec.Channel.Policy)
	if err != nil {
		return err
	}
	ring, err := channel.NewRing[driver.Item](spec.Name+".out", spec.Channel.Capacity, policy)
	if err != nil {
		return err
	}
	rt.registry.RegisterChannel(ring)

	acq, err := acquire.New(spec.Source)
	if err != nil {
		return err
	}

	d, err := driver.New(driver.Config{
		Name:           spec.Name,
		Period:         spec.Period.Std(),
		FaultThreshold: uint64(spec.FaultThreshold),
	}, unit, ring, acq, rt.log)
	if err != nil {
		return err
	}
	rt.registry.RegisterFaultSource(d)
	rt.registry.RegisterNotify(d.Control())
	rt.drivers[spec.Name] = d

	for i := range spec.Consumers {
		cs := &spec.Consumers[i]
		mode, err := driver.ParseConsumerMode(cs.Mode)
		if err != nil {
			return err
		}
		cUnit, err := rt.scheduler.Register(cs.Name, cs.Priority, cs.StackBudget)
		if err != nil {
			return err
		}
		if _, err := rt.registry.RegisterUnit(cUnit); err != nil {
			return err
		}

		c, err := driver.NewConsumer(driver.ConsumerConfig{
			Name:   cs.Name,
			Mode:   mode,
			Period: cs.Period.Std(),
		}, cUnit, ring, nil, rt.log)
		if err != nil {
			return err
		}
		rt.registry.RegisterNotify(c.Set())
		if c.Cursor() != nil {
			rt.registry.RegisterPeeker(c.Cursor())
		}
		d.RegisterConsumer(c.Set())
		rt.consumers = append(rt.consumers, c)
	}
	return nil
}

// Registry returns the instrumentation registry.
func (rt *Runtime) Registry() *instrument.Registry { return rt.registry }

// Bridge returns the Prometheus bridge.
func (rt *Runtime) Bridge() *export.Bridge { return rt.bridge }

// Gatherer returns the Prometheus registry backing /metrics.
func (rt *Runtime) Gatherer() prometheus.Gatherer { return rt.promReg }

// Streamer returns the WebSocket sink.
func (rt *Runtime) Streamer() *ws.Streamer { return rt.streamer }

// Exporter returns the metric exporter.
func (rt *Runtime) Exporter() *export.Exporter { return rt.exporter }

// Driver returns a driver by name.
func (rt *Runtime) Driver(name string) (*driver.Driver, bool) {
	d, ok := rt.drivers[name]
	return d, ok
}

// List implements server.DriverSet.
func (rt *Runtime) List() []server.DriverInfo {
	out := make([]server.DriverInfo, 0, len(rt.drivers))
	for _, d := range rt.drivers {
		out = append(out, server.DriverInfo{
			Name:     d.Name(),
			State:    d.State().String(),
			Produced: d.Produced(),
			Faults:   d.Faults(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset implements server.DriverSet.
func (rt *Runtime) Reset(name string) error {
	d, ok := rt.drivers[name]
	if !ok {
		return fmt.Errorf("%w: %q", server.ErrUnknownDriver, name)
	}
	return d.Reset()
}

// Start launches every unit. The runtime owns a derived context so Stop
// can cancel everything it started.
func (rt *Runtime) Start(ctx context.Context) {
	ctx, rt.cancel = context.WithCancel(ctx)

	for _, d := range rt.drivers {
		d.Start(ctx)
	}
	for _, c := range rt.consumers {
		c.Start(ctx)
	}
	rt.sampler.Start(ctx)
	rt.exporter.Start(ctx)
}

// Stop shuts the system down: cooperative shutdown notifications first,
// then context cancellation for anything still sleeping, then wait.
func (rt *Runtime) Stop() {
	for _, d := range rt.drivers {
		d.RequestShutdown()
	}
	for _, c := range rt.consumers {
		c.RequestShutdown()
	}

	// Give units one cycle to observe the shutdown bit before cancelling.
	time.Sleep(10 * time.Millisecond)
	if rt.cancel != nil {
		rt.cancel()
	}

	rt.scheduler.Wait()
	rt.exporter.Wait()
	rt.streamer.Close()
	rt.log.Info("runtime stopped")
}
