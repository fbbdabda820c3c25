// Package config loads the orchestrator settings of a mu project.
//
// Settings live in .mu/settings.yaml next to mu.toml and are optional. They
// are layered in this order:
//
//  1. built-in defaults (Default)
//  2. the YAML file
//  3. MU_* environment variables, e.g. MU_NODE_PORT=8000 or MU_LOG_LEVEL=debug
//
// The result is validated with go-playground/validator before use.
//
// # Example
//
//	node:
//	  command: dfx
//	  args: [start]
//	  port: 4943
//	readiness:
//	  interval: 1s
//	  timeout: 0s     # wait forever
//	frontend:
//	  base_port: 5173
//	telemetry:
//	  metrics:
//	    enabled: true
//	    listen_address: 127.0.0.1:9464
//	history:
//	  enabled: true
//	  path: .mu/history.db
package config
