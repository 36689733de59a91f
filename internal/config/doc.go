// Package config provides the configuration system for bufstream.
//
// Configuration is built in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  5. Command Line Flags      │  ← Highest priority, applied by cmd/bufstreamd
//	├─────────────────────────────┤
//	│  4. Environment Variables   │  ← BUFSTREAM_SERVER_LISTEN=...
//	├─────────────────────────────┤
//	│  3. .env File               │
//	├─────────────────────────────┤
//	│  2. Config File             │  ← bufstream.toml or bufstream.yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// A config file only needs the keys it changes:
//
//	[server]
//	listen = "unix:/tmp/bufstream.sock"
//
//	[redis]
//	enabled = true
//	url = "redis://localhost:6379/0"
//
//	[lua]
//	scripts = ["/etc/bufstream/log.lua"]
//	execution_timeout = "500ms"
//
// Environment variable names are the prefix, the section and the key in
// upper case: BUFSTREAM_LUA_EXECUTION_TIMEOUT=1s. List values are comma
// separated.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		return err
//	}
package config
