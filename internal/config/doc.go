// Package config handles configuration loading for the chatline gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATLINE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatline/gateway.yaml
//  3. ~/.config/chatline/gateway.yaml
//
// Files ending in .toml are read as TOML; everything else is YAML. Both use
// the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHATLINE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  write_wait: "10s"
//	  pong_wait: "60s"
//	  ping_period: "54s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # WebSocket endpoint and health checks
//	  grpc_addr: "0.0.0.0:50051"  # optional gRPC health service
//
//	tailscale:
//	  enabled: false
//	  hostname: "chatline"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: "/var/lib/chatline/tsnet"
//	  ephemeral: false
//
//	database:
//	  driver: sqlite              # sqlite or mongo
//	  path: "./chatline.db"
//	  mongo_uri: "mongodb://localhost:27017"
//	  mongo_database: "chatline"
//
//	redis:                        # shared pair lock for multi-instance deployments
//	  addr: "localhost:6379"
//	  password: ""
//	  db: 0
//	  lock_ttl: "5s"
//
//	auth:
//	  jwt_secret: "${CHATLINE_JWT_SECRET}"   # at least 32 bytes
//	  token_ttl: "24h"
//
//	session:
//	  send_buffer: 128
//	  handler_timeout: "10s"
//	  dedupe_ttl: "5m"
//	  dedupe_size: 10000
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text or json
//
// Load applies defaults for every unset timing and size before validating.
package config
