// Package instrument maintains the process-wide table of per-unit runtime
// statistics: accumulated run time, execution count and intervals, stack
// high-water marks, and channel health.
//
// Records are populated through two paths: the scheduler's context-switch
// hook, which attributes run time on every core handoff, and a periodic
// low-priority sampler unit, which snapshots stack headroom, channel
// depth/overflow counters, fault counters, and interval statistics.
//
// The hot path uses atomics only. Readers get consistent-enough snapshots
// without any blocking lock; momentary inconsistency is preferred over
// perturbing the scheduling of the measured units. If the sampler itself is
// starved past its period, the lag is surfaced as a meta-metric so
// downstream alerting can tell "system overloaded" from "no data".
package instrument
