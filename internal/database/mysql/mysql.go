package mysql

import (
	"fmt"
	"strings"

	"github.com/koustreak/tessera/internal/database"
)

// Dialect is the MariaDB flavour of database.Dialect. Sequences need
// MariaDB 10.3+; stock MySQL reports them as unknown statements.
type Dialect struct{}

func (Dialect) Name() database.Driver { return database.DriverMySQL }

// QuoteIdent backticks every dot-separated part.
func (Dialect) QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

func (d Dialect) NextSequenceValue(name string) string {
	return "SELECT NEXT VALUE FOR " + d.QuoteIdent(name)
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
