// Package gateway hosts the chatline realtime server.
//
// # Components
//
// New wires, from a config.Config:
//
//   - a store.Store (SQLite or MongoDB, per database.driver)
//   - a pairlock.Locker (Redis when redis.addr is set, in-process otherwise)
//   - the presence registry, the realtime hub and the conversation service
//   - a session.Router that authenticates and binds each connection
//
// # Endpoints
//
// HTTP:
//
//	GET /ws            WebSocket upgrade; token in ?token= or Authorization: Bearer
//	GET /health        liveness, always 200
//	GET /health/ready  200 when the store answers a ping, with the online count
//
// gRPC (when server.grpc_addr is set, or on :50051 under Tailscale):
//
//	grpc.health.v1.Health for "" and "chatline.Gateway"
//
// # Connection Lifecycle
//
// Each WebSocket is upgraded, then handed to session.Router.Open. A rejected
// credential closes the socket with code 1008. An accepted one starts a
// session goroutine that handles frames in order while the handler goroutine
// reads them. When the read side ends the frame queue is closed and the
// session unbinds.
//
// # Tailscale
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :80 (HTTP) and :50051 (gRPC); server addresses are ignored.
//
// # Shutdown
//
// Run blocks until its context is canceled, then Shutdown stops the HTTP
// server, closes every live WebSocket, stops gRPC, leaves the tailnet and
// closes the pair lock and the store.
package gateway
