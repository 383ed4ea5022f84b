// Package journal appends every realtime ChangeEvent to the room_events
// table.
//
// Events are taken off the bus into an in-memory queue and written in
// batches with pgx.Batch, either when the batch is full or on the flush
// interval. The journal is append-only.
package journal
