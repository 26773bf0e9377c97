package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/tessera/internal/database"
)

// Dialect is the PostgreSQL flavour of database.Dialect.
type Dialect struct{}

func (Dialect) Name() database.Driver { return database.DriverPostgres }

// QuoteIdent double-quotes every dot-separated part.
func (Dialect) QuoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func (d Dialect) NextSequenceValue(name string) string {
	// nextval takes the name as a regclass literal.
	return fmt.Sprintf("SELECT nextval('%s')", strings.ReplaceAll(d.QuoteIdent(name), "'", "''"))
}

func (d Dialect) CreateSequence(name string, start, minValue int64) string {
	return fmt.Sprintf("CREATE SEQUENCE %s START WITH %d INCREMENT BY 1 MINVALUE %d", d.QuoteIdent(name), start, minValue)
}

func (d Dialect) RestartSequence(name string, start int64) string {
	return fmt.Sprintf("ALTER SEQUENCE %s RESTART WITH %d", d.QuoteIdent(name), start)
}

func (Dialect) BenignCodes() []string {
	return append([]string(nil), BenignCodes...)
}
