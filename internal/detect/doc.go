// Package detect turns raw device observations into change events.
//
// A Detector compares each observation with the registry's last-known raw
// value and emits one event per changed point. Observations reach it either
// directly or through an Inbox, the per-device queue that serialises
// transport callbacks onto a single consumer goroutine. A Poller samples a
// device on a jittered interval and hands each successful fetch to its sink;
// a failed fetch changes nothing and is only logged and counted.
package detect
