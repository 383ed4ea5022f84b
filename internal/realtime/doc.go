// Package realtime keeps a single logical change-feed subscription alive and
// fans its payloads out to decoupled listeners.
//
// # Components
//
//   - Manager: owns the connection state machine, the connection timeout
//     and the attempt counter. It is the only writer of Status.
//   - Registry: holds at most one primary subscription and hands out
//     independently owned secondary subscriptions.
//   - Dispatcher: normalizes raw payloads into ChangeEvents and broadcasts
//     them on an eventbus topic.
//   - Policy: pure retry/give-up decision from the attempt count.
//
// # State machine
//
//	Disconnected -> Connecting -> Connected
//	Connecting   -> Error          (timeout or immediate failure)
//	Connected    -> Error          (channel error)
//	Error        -> Reconnecting   (budget left) -> Connecting
//	Error        -> Disconnected   (budget exhausted, or Disconnect)
//
// Control methods never return connection errors. Callers observe failures
// through Status().Error.
//
// # Timing
//
// All timers run on an injected clockwork.Clock. Every subscription carries
// a generation number; callbacks from an older generation are dropped, so a
// timer or payload can never act on a replaced or torn-down connection.
package realtime
