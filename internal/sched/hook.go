package sched

import "time"

// SwitchHook is invoked on every core handoff. The outgoing or incoming name
// is empty when the core transitions to or from idle. Calls are serialized
// under the scheduler lock, in slot order. Implementations must not block
// or call back into the scheduler: the hook runs on the scheduling path of
// the measured units.
type SwitchHook interface {
	OnSwitch(outgoing, incoming string, at time.Time)
}

// NopHook discards switch events.
type NopHook struct{}

// OnSwitch implements SwitchHook.
func (NopHook) OnSwitch(string, string, time.Time) {}

// HookFunc adapts a function to the SwitchHook interface.
type HookFunc func(outgoing, incoming string, at time.Time)

// OnSwitch implements SwitchHook.
func (f HookFunc) OnSwitch(outgoing, incoming string, at time.Time) {
	f(outgoing, incoming, at)
}
