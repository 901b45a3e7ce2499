package kstartup

import (
	"context"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/store"
	"github.com/agentstation/kstartup/pkg/store/memory"
	"github.com/agentstation/kstartup/pkg/store/postgres"
	"github.com/agentstation/kstartup/pkg/store/sqlite"
)

// Store drivers accepted by OpenStore.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// OpenStore opens and migrates a store.
func OpenStore(ctx context.Context, driver, dsn string, maxConns int) (store.Store, error) {
	switch driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{DSN: dsn, MaxConns: maxConns})
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.NewConfigError("store.dsn", "sqlite needs a file path or :memory:", nil)
		}
		st, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.NewConfigError("store.driver", "unknown driver "+driver, nil)
	}
}
