// Package mysql connects sessions to MySQL / MariaDB through
// go-sql-driver/mysql.
package mysql

import (
	"context"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/database/sqlconn"
)

// Open connects to MySQL and returns a connection owning one physical link.
// The DSN is normalised first (see normalizeDSN).
func Open(ctx context.Context, cfg *database.Config) (*sqlconn.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	c := *cfg
	c.DSN = dsn
	return sqlconn.Open(ctx, "mysql", &c, Dialect{}, mapError)
}
