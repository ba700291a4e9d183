package sessionmesh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/session/remote"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

// Config describes which session backend to open and how sessiond serves it.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr    string `yaml:"addr"`
	Backend string `yaml:"backend"`

	Memory MemoryConfig `yaml:"memory"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Remote RemoteConfig `yaml:"remote"`
	Log    LogConfig    `yaml:"log"`

	// MaxBodyBytes caps request bodies accepted by the HTTP handler.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// ShutdownTimeout bounds graceful shutdown of the server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MemoryConfig tunes the in-memory backend.
type MemoryConfig struct {
	Shards int `yaml:"shards"`
}

// SQLiteConfig tunes the SQLite backend.
type SQLiteConfig struct {
	Path              string        `yaml:"path"`
	CompressThreshold int           `yaml:"compress_threshold"`
	BusyTimeout       time.Duration `yaml:"busy_timeout"`
}

// RemoteConfig points the remote backend at a sessiond server.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Codec   string        `yaml:"codec"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig selects level and output format of the process logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// DefaultConfig returns a configuration serving an in-memory backend on
// localhost.
func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:8080",
		Backend: BackendMemory,
		SQLite: SQLiteConfig{
			Path:              "sessions.db",
			CompressThreshold: 4 << 10,
			BusyTimeout:       5 * time.Second,
		},
		Remote: RemoteConfig{
			Codec:   "json",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		MaxBodyBytes:    8 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Unknown keys are
// rejected. An empty file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Addr = strings.TrimSpace(c.Addr)
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.SQLite.Path = strings.TrimSpace(c.SQLite.Path)
	c.Remote.URL = strings.TrimSpace(c.Remote.URL)
	c.Remote.Codec = strings.ToLower(strings.TrimSpace(c.Remote.Codec))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		if c.Memory.Shards < 0 {
			return fmt.Errorf("memory.shards must not be negative")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite backend")
		}
	case BackendRemote:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the remote backend")
		}
		if _, err := remote.ParseCodec(c.Remote.Codec); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown backend %q (want memory, sqlite or remote)", c.Backend)
	}

	if _, err := logging.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q (want json or text)", c.Log.Format)
	}

	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative")
	}
	return nil
}
