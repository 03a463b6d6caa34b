package cmd

import (
	"fmt"

	"github.com/bryan-buckman/newsdex/internal/config"
	"github.com/bryan-buckman/newsdex/internal/engine"
	"github.com/bryan-buckman/newsdex/internal/kv"
)

// openStore opens the backend named by the config.
func openStore(sc config.StoreConfig) (kv.Store, error) {
	opts := kv.Options{Timeout: sc.Timeout.Std()}
	switch sc.Driver {
	case "sqlite":
		path := sc.DSN
		if path == "" {
			path = config.DefaultDataPath()
		}
		return kv.OpenSQLite(path, opts)
	case "postgres":
		return kv.OpenPostgres(sc.DSN, opts)
	case "redis":
		return kv.OpenRedis(sc.DSN, opts)
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// openEngine opens the store and wraps it in an Engine. The caller closes the
// returned store.
func openEngine(cfg *config.Config) (*engine.Engine, kv.Store, error) {
	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}
	e := engine.New(st,
		engine.WithKeyPrefix(cfg.Store.KeyPrefix),
		engine.WithTTL(cfg.Retention.RecordTTL.Std()),
	)
	return e, st, nil
}
