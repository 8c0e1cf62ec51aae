// Package acquire provides the data sources drivers sample from.
//
// An acquirer is one blocking read of a scalar value. The package ships a
// deterministic synthetic waveform for development and testing, and a
// system load source backed by /proc/loadavg. Sources are selected by
// name so the driver table can bind them declaratively.
package acquire
