// Package realtime is the fan-out layer between session handlers and
// WebSocket clients.
//
// Hub keeps one room per identity. A room holds that identity's single live
// connection, so handlers address recipients by identity and never by socket.
// EmitToRoom and EmitToAll are best-effort: an empty room or a full send
// buffer drops the event, and nothing is queued for clients that connect
// later. Clients catch up by re-reading their conversation list.
//
// Connection wraps a gorilla/websocket conn with a buffered outbound queue,
// one writer goroutine, write deadlines and ping/pong keepalive.
//
// Every frame is a JSON Envelope {"event": ..., "data": ...}.
package realtime
