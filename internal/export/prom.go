package export

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge mirrors exported batches into Prometheus gauges for pull
// scraping, plus a mutex-guarded snapshot for the JSON status API.
type Bridge struct {
	cpuBusy          *prometheus.GaugeVec
	stackHeadroom    *prometheus.GaugeVec
	execInterval     *prometheus.GaugeVec
	notifyPending    *prometheus.GaugeVec
	faults           *prometheus.GaugeVec
	channelDepth     *prometheus.GaugeVec
	channelOverflow  *prometheus.GaugeVec
	channelHighWater *prometheus.GaugeVec
	peekSkipped      *prometheus.GaugeVec
	samplerLag       prometheus.Gauge
	exportDropped    prometheus.Gauge
	uptime           prometheus.Gauge

	startTime time.Time

	mu       sync.RWMutex
	snapshot BridgeSnapshot
}

// BridgeSnapshot holds current exporter values for the JSON status API.
type BridgeSnapshot struct {
	Batches       uint64 `json:"batches"`
	LastBatchAt   int64  `json:"last_batch_at"`
	LastBatchSize int    `json:"last_batch_size"`
	Dropped       uint64 `json:"dropped"`
}

// NewBridge creates the gauge families on the given registerer. Pass
// prometheus.DefaultRegisterer in the daemon; tests use private registries.
func NewBridge(reg prometheus.Registerer) *Bridge {
	factory := promauto.With(reg)

	return &Bridge{
		startTime: time.Now(),

		cpuBusy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_cpu_busy_seconds_total",
				Help: "Accumulated run time attributed to the unit",
			},
			[]string{"unit"},
		),
		stackHeadroom: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_stack_headroom_bytes",
				Help: "Estimated unused stack budget at high water",
			},
			[]string{"unit"},
		),
		execInterval: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_exec_interval_seconds",
				Help: "Last observed inter-execution interval",
			},
			[]string{"unit"},
		),
		notifyPending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_notification_pending",
				Help: "Distinct pending notification bits per consumer",
			},
			[]string{"unit"},
		),
		faults: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_faults_total",
				Help: "Cumulative transient acquisition faults",
			},
			[]string{"unit"},
		),
		channelDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_channel_depth",
				Help: "Unconsumed items in the channel",
			},
			[]string{"channel"},
		),
		channelOverflow: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_channel_overflow_total",
				Help: "Writes that hit a full channel",
			},
			[]string{"channel"},
		),
		channelHighWater: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_channel_highwater",
				Help: "Largest observed channel depth",
			},
			[]string{"channel"},
		),
		peekSkipped: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drivetrain_peek_skipped_total",
				Help: "Items a peek cursor never saw before overwrite",
			},
			[]string{"consumer"},
		),
		samplerLag: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "drivetrain_sampler_lag_seconds",
				Help: "How far the instrumentation sampler ran past its period",
			},
		),
		exportDropped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "drivetrain_export_dropped_batches_total",
				Help: "Batches dropped because the export buffer was full",
			},
		),
		uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "drivetrain_uptime_seconds",
				Help: "Seconds since the exporter started",
			},
		),
	}
}

// Apply mirrors a batch into the gauges.
func (b *Bridge) Apply(batch *Batch) {
	for i := range batch.Samples {
		s := &batch.Samples[i]
		switch s.Metric {
		case MetricCPUBusy:
			b.cpuBusy.WithLabelValues(s.Unit).Set(s.Value)
		case MetricStackHeadroom:
			b.stackHeadroom.WithLabelValues(s.Unit).Set(s.Value)
		case MetricExecInterval:
			b.execInterval.WithLabelValues(s.Unit).Set(s.Value)
		case MetricNotifyPending:
			b.notifyPending.WithLabelValues(s.Unit).Set(s.Value)
		case MetricFaults:
			b.faults.WithLabelValues(s.Unit).Set(s.Value)
		case MetricChannelDepth:
			b.channelDepth.WithLabelValues(s.Unit).Set(s.Value)
		case MetricChannelOverflow:
			b.channelOverflow.WithLabelValues(s.Unit).Set(s.Value)
		case MetricChannelHighWater:
			b.channelHighWater.WithLabelValues(s.Unit).Set(s.Value)
		case MetricPeekSkipped:
			b.peekSkipped.WithLabelValues(s.Unit).Set(s.Value)
		case MetricSamplerLag:
			b.samplerLag.Set(s.Value)
		case MetricExportDropped:
			b.exportDropped.Set(s.Value)
		}
	}
	b.uptime.Set(time.Since(b.startTime).Seconds())

	b.mu.Lock()
	b.snapshot.Batches++
	b.snapshot.LastBatchAt = batch.At
	b.snapshot.LastBatchSize = len(batch.Samples)
	b.mu.Unlock()
}

// RecordDropped updates the drop count shown in the status snapshot.
func (b *Bridge) RecordDropped(total uint64) {
	b.exportDropped.Set(float64(total))

	b.mu.Lock()
	b.snapshot.Dropped = total
	b.mu.Unlock()
}

// Snapshot returns the current status values.
func (b *Bridge) Snapshot() BridgeSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}
