package main

import (
	"github.com/spf13/pflag"

	"github.com/hupe1980/sessionmesh"
)

// serveOptions holds flag values. Flags left unset keep the value from the
// config file (or the defaults when no file is given).
type serveOptions struct {
	ConfigPath string
	Addr       string
	Backend    string
	SQLitePath string
	RemoteURL  string
	LogLevel   string
	LogFormat  string

	flags *pflag.FlagSet
}

func bindFlags(fs *pflag.FlagSet, opts *serveOptions) {
	defaults := sessionmesh.DefaultConfig()

	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&opts.Addr, "addr", defaults.Addr, "listen address")
	fs.StringVar(&opts.Backend, "backend", defaults.Backend, "session backend (memory|sqlite|remote)")
	fs.StringVar(&opts.SQLitePath, "sqlite-path", defaults.SQLite.Path, "SQLite database file")
	fs.StringVar(&opts.RemoteURL, "remote-url", "", "base URL of an upstream sessiond (remote backend)")
	fs.StringVar(&opts.LogLevel, "log-level", defaults.Log.Level, "log level (debug|info|warn|error)")
	fs.StringVar(&opts.LogFormat, "log-format", defaults.Log.Format, "log format (json|text)")

	opts.flags = fs
}

// resolve loads the config file, if any, and applies explicitly set flags.
func (o *serveOptions) resolve() (sessionmesh.Config, error) {
	cfg := sessionmesh.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := sessionmesh.LoadConfig(o.ConfigPath)
		if err != nil {
			return sessionmesh.Config{}, err
		}
		cfg = loaded
	}

	overlay := map[string]func(){
		"addr":        func() { cfg.Addr = o.Addr },
		"backend":     func() { cfg.Backend = o.Backend },
		"sqlite-path": func() { cfg.SQLite.Path = o.SQLitePath },
		"remote-url":  func() { cfg.Remote.URL = o.RemoteURL },
		"log-level":   func() { cfg.Log.Level = o.LogLevel },
		"log-format":  func() { cfg.Log.Format = o.LogFormat },
	}
	o.flags.VisitAll(func(f *pflag.Flag) {
		if apply, ok := overlay[f.Name]; f.Changed && ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return sessionmesh.Config{}, err
	}
	return cfg, nil
}
