// Package dispatch routes inbound commands to per-device handlers.
//
// A Dispatcher serves one adapter. Handlers are registered in a table keyed
// by (point, mode) and run on their own goroutine per command, so a handler
// that must query the device first never blocks the next command. Commands
// that cannot be handled are dropped, counted by reason and logged; nothing
// is reported back to the sender.
//
// Relative modes (increase, decrease) without a handler of their own are
// resolved against the registry's last-known canonical value and passed to
// the point's absolute handler. Every resolved value is clamped to [0,1].
//
// The resolved value is remembered before the handler runs, whatever the
// handler later returns. The last command written wins, so back-to-back
// relative commands compound without waiting on the device. A handler that
// fails leaves the remembered value ahead of the device until the next poll
// or notification reports the device's own value, which Remember forces to
// be re-emitted.
package dispatch
