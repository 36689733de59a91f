package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/bufstream/internal/bufupdate"
	"github.com/dshills/bufstream/internal/host"
	"github.com/dshills/bufstream/internal/plugin/lua"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BUFSTREAM_"

// Config is the complete daemon configuration.
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log" envPrefix:"LOG_"`
	Server    ServerConfig    `toml:"server" yaml:"server" envPrefix:"SERVER_"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis" envPrefix:"REDIS_"`
	Lua       LuaConfig       `toml:"lua" yaml:"lua" envPrefix:"LUA_"`
	Broadcast BroadcastConfig `toml:"broadcast" yaml:"broadcast" envPrefix:"BROADCAST_"`
	Watch     WatchConfig     `toml:"watch" yaml:"watch" envPrefix:"WATCH_"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `toml:"level" yaml:"level" env:"LEVEL"`

	// Format is text or json.
	Format string `toml:"format" yaml:"format" env:"FORMAT"`
}

// ServerConfig controls the RPC transports.
type ServerConfig struct {
	// Stdio serves one RPC client on stdin/stdout.
	Stdio bool `toml:"stdio" yaml:"stdio" env:"STDIO"`

	// Listen is a socket address: "unix:/path", "tcp://host:port" or "host:port".
	Listen string `toml:"listen" yaml:"listen" env:"LISTEN"`

	// WebSocket is the HTTP address for websocket clients. Empty disables it.
	WebSocket string `toml:"websocket" yaml:"websocket" env:"WEBSOCKET"`

	// WebSocketPath is the HTTP path websocket clients connect to.
	WebSocketPath string `toml:"websocket_path" yaml:"websocket_path" env:"WEBSOCKET_PATH"`

	// AllowedOrigins restricts websocket Origin headers. Empty allows same-host only.
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// QueueSize is the per-channel outbound notification queue length.
	QueueSize int `toml:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
}

// RedisConfig controls the redis pub/sub mirror channel.
type RedisConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	URL     string `toml:"url" yaml:"url" env:"URL"`

	// Prefix is the topic prefix; notifications go to "<prefix>:<channel id>".
	Prefix string `toml:"prefix" yaml:"prefix" env:"PREFIX"`

	// RequireReceivers treats a publish nobody received as a dead channel.
	RequireReceivers bool `toml:"require_receivers" yaml:"require_receivers" env:"REQUIRE_RECEIVERS"`

	RetryAttempts int      `toml:"retry_attempts" yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInterval Duration `toml:"retry_interval" yaml:"retry_interval" env:"RETRY_INTERVAL"`
}

// LuaConfig controls script subscribers.
type LuaConfig struct {
	// Scripts are loaded at startup, each on its own channel.
	Scripts []string `toml:"scripts" yaml:"scripts" env:"SCRIPTS"`

	MaxScriptErrors  int      `toml:"max_script_errors" yaml:"max_script_errors" env:"MAX_SCRIPT_ERRORS"`
	ExecutionTimeout Duration `toml:"execution_timeout" yaml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
	CallTimeout      Duration `toml:"call_timeout" yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// BroadcastConfig tunes the broadcaster and host loop.
type BroadcastConfig struct {
	// MaxEvictionsPerEdit bounds how many dead channels one edit removes.
	MaxEvictionsPerEdit int `toml:"max_evictions_per_edit" yaml:"max_evictions_per_edit" env:"MAX_EVICTIONS_PER_EDIT"`

	// HostQueueSize is the host request queue length.
	HostQueueSize int `toml:"host_queue_size" yaml:"host_queue_size" env:"HOST_QUEUE_SIZE"`
}

// WatchConfig controls external file change detection.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	Debounce Duration `toml:"debounce" yaml:"debounce" env:"DEBOUNCE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			WebSocketPath: "/rpc",
			QueueSize:     256,
		},
		Redis: RedisConfig{
			URL:           "redis://localhost:6379/0",
			Prefix:        "bufstream",
			RetryAttempts: 3,
			RetryInterval: Duration(time.Second),
		},
		Lua: LuaConfig{
			MaxScriptErrors:  lua.DefaultMaxScriptErrors,
			ExecutionTimeout: Duration(lua.DefaultExecutionTimeout),
			CallTimeout:      Duration(lua.DefaultCallTimeout),
		},
		Broadcast: BroadcastConfig{
			MaxEvictionsPerEdit: bufupdate.DefaultMaxEvictionsPerEdit,
			HostQueueSize:       host.DefaultQueueSize,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(100 * time.Millisecond),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path string, value any, msg string) {
		errs = append(errs, &ValidationError{Path: path, Value: value, Message: msg})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		invalid("log.format", c.Log.Format, "must be text or json")
	}

	if c.Server.QueueSize < 1 {
		invalid("server.queue_size", c.Server.QueueSize, "must be at least 1")
	}
	if c.Server.WebSocket != "" && !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		invalid("server.websocket_path", c.Server.WebSocketPath, "must start with /")
	}

	if c.Redis.Enabled {
		if c.Redis.URL == "" {
			invalid("redis.url", c.Redis.URL, "required when redis is enabled")
		}
		if c.Redis.Prefix == "" {
			invalid("redis.prefix", c.Redis.Prefix, "required when redis is enabled")
		}
		if c.Redis.RetryAttempts < 1 {
			invalid("redis.retry_attempts", c.Redis.RetryAttempts, "must be at least 1")
		}
		if c.Redis.RetryInterval < 0 {
			invalid("redis.retry_interval", c.Redis.RetryInterval, "must not be negative")
		}
	}

	if c.Lua.MaxScriptErrors < 1 {
		invalid("lua.max_script_errors", c.Lua.MaxScriptErrors, "must be at least 1")
	}
	if c.Lua.ExecutionTimeout < 0 {
		invalid("lua.execution_timeout", c.Lua.ExecutionTimeout, "must not be negative")
	}
	if c.Lua.CallTimeout <= 0 {
		invalid("lua.call_timeout", c.Lua.CallTimeout, "must be positive")
	}

	if c.Broadcast.MaxEvictionsPerEdit < 1 {
		invalid("broadcast.max_evictions_per_edit", c.Broadcast.MaxEvictionsPerEdit, "must be at least 1")
	}
	if c.Broadcast.HostQueueSize < 1 {
		invalid("broadcast.host_queue_size", c.Broadcast.HostQueueSize, "must be at least 1")
	}

	if c.Watch.Debounce < 0 {
		invalid("watch.debounce", c.Watch.Debounce, "must not be negative")
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a Go duration string ("250ms")
// in files and environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }
