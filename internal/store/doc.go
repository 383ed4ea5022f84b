// Package store persists rooms and custom statuses.
//
// Two backends implement Store:
//   - Postgres: pgxpool-backed; Migrate installs a row trigger that emits
//     every change with pg_notify on "<prefix>_<table>"
//   - SQLite: modernc.org/sqlite, for single-node setups; it hands the same
//     change payload to a Publisher such as feed.Hub after each write
//
// Either way a change reaches subscribers as
//
//	{"eventType": "UPDATE", "table": "rooms", "new": {...}, "old": {...}}
package store
