package config

import (
	"context"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/cache/boltstore"
	"github.com/koustreak/tessera/internal/cache/miniostore"
	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/database/mssql"
	"github.com/koustreak/tessera/internal/database/mysql"
	"github.com/koustreak/tessera/internal/database/postgres"
)

// OpenBackend opens the configured persistent cache backend. It returns a
// nil backend for "none"; close is never nil.
func (c *Config) OpenBackend(ctx context.Context) (cache.Backend, func() error, error) {
	noop := func() error { return nil }

	switch c.Cache.Backend {
	case BackendBolt:
		store, err := boltstore.Open(c.Cache.Bolt.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case BackendMinIO:
		store, err := miniostore.New(ctx, c.MinIOConfig())
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
	return nil, noop, nil
}

// Connect opens one connection with the configured driver.
func (c *Config) Connect(ctx context.Context) (database.Conn, error) {
	dbCfg := c.DatabaseConfig()
	switch dbCfg.Driver {
	case database.DriverPostgres:
		conn, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case database.DriverMySQL:
		conn, err := mysql.Open(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	conn, err := mssql.Open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
