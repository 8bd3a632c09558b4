package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/vango-dev/livetree/pkg/server"
	"github.com/vango-dev/livetree/pkg/token"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LIVETREE_"

	maxConfigFileSize = 1024 * 1024
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the complete livetree server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Stream   StreamConfig   `koanf:"stream"`
	Token    TokenConfig    `koanf:"token"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

// ServerConfig configures the HTTP listener and pages.
type ServerConfig struct {
	Address          string        `koanf:"address" validate:"required"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
	MaxBodySize      int64         `koanf:"max_body_size" validate:"min=1024"`
	EnableWebSocket  bool          `koanf:"enable_websocket"`
	DisableHTTPRetry bool          `koanf:"disable_http_retry"`
	TrustedProxies   []string      `koanf:"trusted_proxies" validate:"dive,required"`
	MaxStreamsPerIP  int           `koanf:"max_streams_per_ip" validate:"min=0"`
	WorkerGrace      time.Duration `koanf:"worker_grace" validate:"min=0"`
	ClientScript     string        `koanf:"client_script"`
	Title            string        `koanf:"title"`
}

// StreamConfig configures websocket connections.
type StreamConfig struct {
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0,ltfield=ReadTimeout"`
	MaxMessageSize    int64         `koanf:"max_message_size" validate:"min=1024"`
	EventRate         float64       `koanf:"event_rate" validate:"gt=0"`
	EventBurst        int           `koanf:"event_burst" validate:"min=1"`
	Compression       bool          `koanf:"compression"`
}

// TokenConfig configures state tokens. Mode "jwt" seals the state into the
// token itself; "store" keeps it in the snapshot backend.
type TokenConfig struct {
	Mode      string        `koanf:"mode" validate:"oneof=jwt store"`
	Secret    string        `koanf:"secret" validate:"required,min=16"`
	Algorithm string        `koanf:"algorithm" validate:"oneof=HS256 HS384 HS512"`
	MaxAge    time.Duration `koanf:"max_age" validate:"gt=0"`
}

// SnapshotConfig selects the snapshot backend used by the "store" token
// mode. Keys are flat so every field maps to one environment variable.
type SnapshotConfig struct {
	Backend        string `koanf:"backend" validate:"oneof=memory badger s3"`
	BadgerPath     string `koanf:"badger_path" validate:"required_if=Backend badger BadgerInMemory false"`
	BadgerInMemory bool   `koanf:"badger_in_memory"`
	S3Bucket       string `koanf:"s3_bucket" validate:"required_if=Backend s3"`
	S3Prefix       string `koanf:"s3_prefix"`
	S3Region       string `koanf:"s3_region" validate:"required_if=Backend s3"`
	S3Endpoint     string `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey    string `koanf:"s3_access_key"`
	S3SecretKey    string `koanf:"s3_secret_key"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Path      string `koanf:"path" validate:"startswith=/"`
	Namespace string `koanf:"namespace" validate:"required"`
}

// TracingConfig configures span export to stdout.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name" validate:"required"`
	Pretty      bool   `koanf:"pretty"`
}

// Default returns the built-in configuration. Token.Secret is empty and must
// be provided.
func Default() *Config {
	sc := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:         sc.Address,
			ShutdownTimeout: sc.ShutdownTimeout,
			MaxBodySize:     sc.MaxBodySize,
			WorkerGrace:     sc.WorkerGrace,
			Title:           sc.Title,
		},
		Stream: StreamConfig{
			ReadTimeout:       sc.Stream.ReadTimeout,
			WriteTimeout:      sc.Stream.WriteTimeout,
			HeartbeatInterval: sc.Stream.HeartbeatInterval,
			MaxMessageSize:    sc.Stream.MaxMessageSize,
			EventRate:         sc.Stream.EventRate,
			EventBurst:        sc.Stream.EventBurst,
		},
		Token: TokenConfig{
			Mode:      "jwt",
			Algorithm: string(token.HS512),
			MaxAge:    token.DefaultMaxAge,
		},
		Snapshot: SnapshotConfig{
			Backend: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path:      "/metrics",
			Namespace: "livetree",
		},
		Tracing: TracingConfig{
			ServiceName: "livetree",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults, then applies LIVETREE_ environment overrides and validates.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	LIVETREE_TOKEN_SECRET         -> token.secret
//	LIVETREE_SERVER_MAX_BODY_SIZE -> server.max_body_size
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config: %s too large: %d bytes (max %d)", path, info.Size(), maxConfigFileSize)
		}
		content, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(content)
}

// Parse is Load for YAML already in memory.
func Parse(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps LIVETREE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Logger builds the process logger.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ServerConfig returns a server configuration built from c. Metrics,
// tracing and the logger are left for the caller to attach.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Address = c.Server.Address
	sc.ShutdownTimeout = c.Server.ShutdownTimeout
	sc.MaxBodySize = c.Server.MaxBodySize
	sc.EnableWebSocket = c.Server.EnableWebSocket
	sc.DisableHTTPRetry = c.Server.DisableHTTPRetry
	sc.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	sc.MaxStreamsPerIP = c.Server.MaxStreamsPerIP
	sc.WorkerGrace = c.Server.WorkerGrace
	sc.ClientScript = c.Server.ClientScript
	sc.Title = c.Server.Title

	sc.Stream.ReadTimeout = c.Stream.ReadTimeout
	sc.Stream.WriteTimeout = c.Stream.WriteTimeout
	sc.Stream.HeartbeatInterval = c.Stream.HeartbeatInterval
	sc.Stream.MaxMessageSize = c.Stream.MaxMessageSize
	sc.Stream.EventRate = c.Stream.EventRate
	sc.Stream.EventBurst = c.Stream.EventBurst
	sc.Stream.EnableCompression = c.Stream.Compression
	return sc
}
