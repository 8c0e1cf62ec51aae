// Package server exposes the runtime's observability surface over HTTP.
//
// Endpoints:
//   - GET  /            service identity
//   - GET  /health      liveness probe
//   - GET  /metrics     Prometheus exposition
//   - GET  /status      export bridge and sampler status
//   - GET  /units       per-unit instrumentation snapshots
//   - GET  /channels    channel depth, high-water, and overflow stats
//   - GET  /drivers     driver states and fault counts
//   - POST /drivers/:name/reset  clear a degraded driver
//   - GET  /stream      WebSocket metric stream
//
// The server never touches scheduler state directly: reads go through the
// instrumentation registry's lock-free snapshots, and driver control goes
// through the DriverSet interface.
//
// Example Usage:
//
//	srv := server.New(cfg, deps, log)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
