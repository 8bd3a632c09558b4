// Package config loads the livetree server configuration.
//
// Configuration is read from an optional YAML file, then overridden by
// LIVETREE_ environment variables, then validated.
//
// # Configuration File Structure
//
//	server:
//	  address: ":8080"
//	  enable_websocket: true
//	  trusted_proxies: ["10.0.0.0/8"]
//	  max_streams_per_ip: 8
//	stream:
//	  heartbeat_interval: 25s
//	  read_timeout: 60s
//	token:
//	  mode: store          # jwt | store
//	  algorithm: HS512
//	  max_age: 24h
//	snapshot:
//	  backend: badger      # memory | badger | s3
//	  badger_path: /var/lib/livetree
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  enabled: true
//	  path: /metrics
//	tracing:
//	  enabled: false
//
// The token secret is normally provided as LIVETREE_TOKEN_SECRET.
//
// # Usage
//
//	cfg, err := config.Load("livetree.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(app, resolver, cfg.ServerConfig())
package config
