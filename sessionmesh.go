// Package sessionmesh wires a configured session backend for applications
// and the sessiond server. Most callers:
//  1. Load a Config via LoadConfig (or start from DefaultConfig)
//  2. Build a logger with NewLogger
//  3. Open the backend with Open and close it on shutdown
//
// The returned store is a core.SessionStore; memory, sqlite and remote
// backends behave identically through it.
package sessionmesh

import (
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/session"
	"github.com/hupe1980/sessionmesh/session/remote"
	"github.com/hupe1980/sessionmesh/session/sqlite"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig) (*logging.StructuredLogger, error) {
	level, err := logging.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultLoggerConfig()
	lc.Level = level
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	lc.AddSource = cfg.AddSource
	lc.Component = "sessionmesh"
	return logging.NewLogger(lc), nil
}

// Open validates cfg and opens its backend. The closer releases backend
// resources; it is a no-op for memory and remote backends. A nil logger
// disables store logging.
func Open(cfg Config, logger logging.Logger) (core.SessionStore, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	switch cfg.Backend {
	case BackendSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path, func(o *sqlite.Options) {
			o.Logger = logger
			o.CompressThreshold = cfg.SQLite.CompressThreshold
			if cfg.SQLite.BusyTimeout > 0 {
				o.BusyTimeout = cfg.SQLite.BusyTimeout
			}
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case BackendRemote:
		c, _ := remote.ParseCodec(cfg.Remote.Codec)
		client, err := remote.NewClient(cfg.Remote.URL,
			remote.WithCodec(c),
			remote.WithHTTPClient(remote.NewHTTPClient(cfg.Remote.Timeout)),
			remote.WithClientLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return client, nopCloser, nil
	default:
		store := session.NewInMemoryStore(session.WithLogger(logger), func(o *session.Options) {
			if cfg.Memory.Shards > 0 {
				o.Shards = cfg.Memory.Shards
			}
		})
		return store, nopCloser, nil
	}
}

// NewHandler exposes store over HTTP with the body limit of cfg.
func NewHandler(cfg Config, store core.SessionStore, logger logging.Logger) http.Handler {
	return remote.NewHandler(store, func(o *remote.HandlerOptions) {
		if logger != nil {
			o.Logger = logger
		}
		if cfg.MaxBodyBytes > 0 {
			o.MaxBodyBytes = cfg.MaxBodyBytes
		}
	})
}
