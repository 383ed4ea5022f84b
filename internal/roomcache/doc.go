// Package roomcache keeps an in-memory copy of rooms and custom statuses.
//
// The cache loads everything from the store on Start, then applies the
// realtime ChangeEvents broadcast on the event bus. A periodic
// reconciliation reloads from the store and logs any drift the change
// feed missed, for example while the connection was down.
package roomcache
