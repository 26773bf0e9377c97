package mysql

import (
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/tessera/internal/errs"
)

// normalizeDSN forces the options the session layer relies on:
// parseTime so DATETIME scans as time.Time, and no multi-statements so a
// retried statement never replays a batch partially.
func normalizeDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConfiguration, "invalid mysql DSN", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}
