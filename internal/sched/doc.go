// Package sched provides the scheduled unit abstraction and the core-slot
// scheduler underneath every autonomous driver.
//
// The runtime models a single processor core: units must hold the core slot
// to execute, and the slot is handed to waiting units in priority order.
// Every handoff invokes the registered SwitchHook with the outgoing and
// incoming unit names, which is the sole feed for runtime instrumentation.
//
// Key Components:
//   - Scheduler: owns the core slot and the priority wait queue
//   - Unit: a named, priority-ordered execution context backed by a goroutine
//   - SwitchHook: explicit context-switch callback interface
//
// Suspension points (Sleep, and the blocking operations in the channel and
// notify packages) release the core so a suspended unit consumes no cycles.
package sched
