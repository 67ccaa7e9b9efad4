// Package cmdutil wires shared dependencies for tailctl subcommands.
package cmdutil

import (
	"log/slog"

	"tailctl/config"
	"tailctl/internal/adapter/sqlite"
	"tailctl/internal/adapter/tailscale"
)

// RootFlags holds the root persistent flag values subcommands resolve
// their dependencies from.
type RootFlags struct {
	Debug      bool
	ConfigPath string // --config override, empty means the default path
	Binary     string // --binary override, wins over the config file
}

// Config loads the effective configuration, applying flag overrides.
func (f *RootFlags) Config() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.ConfigPath != "" {
		cfg, err = config.LoadFrom(f.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.Binary != "" {
		cfg.Binary = f.Binary
	}
	return cfg, nil
}

// Backend builds the tailscale CLI client from the effective config.
func (f *RootFlags) Backend() (*tailscale.Client, *config.Config, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, nil, err
	}
	var opts []tailscale.Option
	if cfg.Binary != "" {
		opts = append(opts, tailscale.WithBinary(cfg.Binary))
	}
	client, err := tailscale.NewClient(opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// OpenStore opens the persistent state database. A nil store with a nil
// error is never returned; callers treat open failures as non-fatal when
// persistence is optional.
func OpenStore() (*sqlite.Store, error) {
	return sqlite.Open(config.StatePath())
}

// OptionalStore opens the state database, logging and swallowing failures.
// Commands that only write history keep working without persistence.
func OptionalStore() *sqlite.Store {
	s, err := OpenStore()
	if err != nil {
		slog.Debug("open state store", "err", err)
		return nil
	}
	return s
}
