// Package httpapi exposes the housekeeping service over HTTP.
//
// Reads are served from the room cache, writes go to the store and come
// back through the change feed. Live changes are streamed as server-sent
// events:
//
//	GET  /health
//	GET  /metrics
//	GET  /api/realtime/status
//	POST /api/realtime/connect
//	POST /api/realtime/disconnect
//	POST /api/realtime/reconnect
//	GET  /api/rooms[?status=]
//	GET  /api/rooms/:id
//	POST /api/rooms
//	PUT  /api/rooms/:id
//	DELETE /api/rooms/:id
//	GET  /api/statuses
//	POST /api/statuses
//	PUT  /api/statuses/:id
//	DELETE /api/statuses/:id
//	GET  /api/stats
//	GET  /api/streams/changes
//	GET  /api/streams/rooms/:id
//	GET  /api/streams/status/:status
package httpapi
