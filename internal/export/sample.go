package export

// Fixed metric names, the external contract consumed by integrators.
const (
	MetricCPUBusy          = "cpu_busy_time"
	MetricStackHeadroom    = "stack_headroom_bytes"
	MetricExecInterval     = "exec_interval_observed"
	MetricChannelDepth     = "channel_depth"
	MetricChannelOverflow  = "channel_overflow_count"
	MetricNotifyPending    = "notification_pending_count"
	MetricChannelHighWater = "channel_highwater"
	MetricFaults           = "fault_count"
	MetricPeekSkipped      = "peek_skipped_count"
	MetricSamplerLag       = "sampler_lag_seconds"
	MetricExportDropped    = "export_dropped_batches"
)

// Sample is one immutable (unit, metric, value, timestamp) tuple. Unit
// holds a unit, channel, or consumer name depending on the metric.
type Sample struct {
	Unit      string  `json:"unit"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"` // unix nanoseconds
}

// Batch is one export cycle's worth of samples. Immutable once built;
// sinks receive the same batch and must not mutate it.
type Batch struct {
	ID      string   `json:"id"`
	At      int64    `json:"at"` // unix nanoseconds
	Samples []Sample `json:"samples"`
}
