// Package runtime assembles the whole system from a driver table.
//
// Build reads validated configuration and wires, in order: the
// instrumentation registry, the core-slot scheduler with the registry as
// its switch hook, every driver with its channel and consumers, the
// periodic sampler, and the metric exporter with its sinks. Nothing here
// runs until Start; Stop delivers cooperative shutdown notifications and
// waits for every unit to finish.
package runtime
