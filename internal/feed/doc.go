// Package feed defines the change-feed channel contract the realtime core
// subscribes through, plus an in-process implementation.
//
// A Channel delivers change payloads for a named resource (a table such as
// "rooms") to a Handler and reports subscription lifecycle through an
// optional StatusHandler:
//
//	unsubscribe, err := ch.Subscribe("rooms", handle, feed.Options{
//	    Event:    feed.EventUpdate,
//	    Filter:   &feed.Filter{Column: "id", Value: roomID},
//	    OnStatus: onStatus,
//	})
//
// Transport implementations live in subpackages:
//   - wsfeed: JSON command protocol over a WebSocket
//   - pgfeed: Postgres LISTEN/NOTIFY
//
// Hub is the in-process implementation used by the sqlite store and tests.
package feed
