// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Realtime connection state, failed attempts and scheduled reconnects
//   - Change events dispatched by resource and type
//   - Event bus listener panics
//   - HTTP request counts and latencies
//   - Room cache and change journal gauges, registered by the caller
//
// Metrics is a realtime.Recorder and its ListenerPanicked method is an
// eventbus.PanicHandler.
package metrics
