// Package config provides 12-factor configuration for the drivetrain daemon.
//
// Runtime settings (server, logging, export, sampler) come from environment
// variables with sensible defaults. The driver table (which units exist,
// their periods, priorities, channels, and consumers) is declarative and
// loaded from a YAML or TOML file, chosen by extension.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, rate limiting)
//   - Logging: Log level and output format
//   - Export: Batch interval, buffer depth, push collector
//   - Sampler: Periodic sampling interval
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	table, err := config.LoadTable("drivers.yaml")
//
// Environment Variables:
//   - PORT, HOST, RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - LOG_LEVEL, LOG_DEV
//   - EXPORT_INTERVAL, EXPORT_BUFFER, PUSH_URL, PUSH_GZIP
//   - SAMPLER_INTERVAL
package config
