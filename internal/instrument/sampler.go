package instrument

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// DefaultSamplerInterval is used when none is configured.
const DefaultSamplerInterval = time.Second

// Sampler is the periodic low-priority unit that walks the registry:
// stack headroom per unit, per-channel depth/overflow, fault counters, and
// moment statistics over recent execution intervals. It measures its own
// period overrun and reports it as the sampler-lag meta-metric.
type Sampler struct {
	registry *Registry
	unit     *sched.Unit
	interval time.Duration
	log      *logging.Logger
}

// NewSampler creates a sampler driving the given registry. The unit should
// be registered at a priority below every measured unit so that starvation
// of the sampler, not of the drivers, is the first overload symptom.
func NewSampler(registry *Registry, unit *sched.Unit, interval time.Duration, log *logging.Logger) (*Sampler, error) {
	if registry == nil || unit == nil {
		return nil, fmt.Errorf("instrument: sampler requires a registry and a unit")
	}
	if interval <= 0 {
		interval = DefaultSamplerInterval
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Sampler{
		registry: registry,
		unit:     unit,
		interval: interval,
		log:      log.ForUnit(unit.Name()),
	}, nil
}

// Unit returns the sampler's scheduled unit.
func (s *Sampler) Unit() *sched.Unit { return s.unit }

// Start launches the sampler's unit.
func (s *Sampler) Start(ctx context.Context) {
	s.unit.Start(ctx, s.run)
}

func (s *Sampler) run(ctx context.Context) {
	s.log.Info("sampler started", zap.Duration("interval", s.interval))

	for {
		wakeDue := time.Now().Add(s.interval)
		if err := s.unit.Sleep(ctx, s.interval); err != nil {
			break
		}

		// Lag past the nominal period means the sampler was starved of the
		// core; surfaced rather than hidden so "overloaded" and "no data"
		// stay distinguishable downstream.
		lag := time.Since(wakeDue)
		if lag < 0 {
			lag = 0
		}
		s.registry.samplerLagNs.Store(int64(lag))
		if lag > s.interval {
			s.log.Warn("sampler starved past its period", zap.Duration("lag", lag))
		}

		s.pass()
		s.registry.samplerRuns.Add(1)
		s.unit.ProbeStack()
	}

	s.log.Info("sampler stopped", zap.Uint64("runs", s.registry.samplerRuns.Load()))
}

// pass walks every observed object once.
func (s *Sampler) pass() {
	r := s.registry

	r.mu.Lock()
	units := r.units
	channels := r.channels
	faults := r.faults
	r.mu.Unlock()

	records := r.records.Load().(map[string]*Record)

	for _, u := range units {
		rec, ok := records[u.Name()]
		if !ok {
			continue
		}
		high := u.StackHighWater()
		rec.stackHighWater.Store(high)
		rec.stackHeadroom.Store(u.StackHeadroom())
		rec.stackSamples.Add(1)

		if xs := rec.intervalSamples(); len(xs) >= 2 {
			rec.intervalMean.Store(math.Float64bits(stat.Mean(xs, nil)))
			rec.intervalStddev.Store(math.Float64bits(stat.StdDev(xs, nil)))
		}
	}

	for _, f := range faults {
		if rec, ok := records[f.Name()]; ok {
			rec.faults.Store(f.Faults())
		}
	}

	stats := make([]channel.Stats, 0, len(channels))
	for _, c := range channels {
		stats = append(stats, c.Stats())
	}
	r.lastChannels.Store(stats)
}
