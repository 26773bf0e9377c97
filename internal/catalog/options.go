package catalog

import (
	"strconv"
	"strings"

	"github.com/koustreak/tessera/internal/database"
)

// UserOptions are the SET options in effect on the connection.
type UserOptions struct {
	TextSize       int64                   `json:"text_size"`
	Language       string                  `json:"language"`
	DateFormat     string                  `json:"date_format"`
	DateFirst      int                     `json:"date_first"`
	LockTimeout    int64                   `json:"lock_timeout"` // milliseconds, -1 waits forever
	IsolationLevel database.IsolationLevel `json:"isolation_level"`

	QuotedIdentifier     bool `json:"quoted_identifier"`
	ArithAbort           bool `json:"arithabort"`
	AnsiNullDefaultOn    bool `json:"ansi_null_dflt_on"`
	AnsiWarnings         bool `json:"ansi_warnings"`
	AnsiPadding          bool `json:"ansi_padding"`
	AnsiNulls            bool `json:"ansi_nulls"`
	ConcatNullYieldsNull bool `json:"concat_null_yields_null"`
}

// Option names as DBCC USEROPTIONS reports them.
const (
	optTextSize             = "textsize"
	optLanguage             = "language"
	optDateFormat           = "dateformat"
	optDateFirst            = "datefirst"
	optLockTimeout          = "lock_timeout"
	optIsolationLevel       = "isolation level"
	optQuotedIdentifier     = "quoted_identifier"
	optArithAbort           = "arithabort"
	optAnsiNullDefaultOn    = "ansi_null_dflt_on"
	optAnsiWarnings         = "ansi_warnings"
	optAnsiPadding          = "ansi_padding"
	optAnsiNulls            = "ansi_nulls"
	optConcatNullYieldsNull = "concat_null_yields_null"
)

// parseUserOptions reads the name/value pairs of either source. Flags
// are on when present with value SET; DBCC omits options that are off.
func parseUserOptions(pairs map[string]string) UserOptions {
	num := func(name string) int64 {
		n, _ := strconv.ParseInt(strings.TrimSpace(pairs[name]), 10, 64)
		return n
	}
	flag := func(name string) bool {
		return strings.EqualFold(strings.TrimSpace(pairs[name]), "SET")
	}

	return UserOptions{
		TextSize:       num(optTextSize),
		Language:       pairs[optLanguage],
		DateFormat:     pairs[optDateFormat],
		DateFirst:      int(num(optDateFirst)),
		LockTimeout:    num(optLockTimeout),
		IsolationLevel: isolationFromEngine(pairs[optIsolationLevel]),

		QuotedIdentifier:     flag(optQuotedIdentifier),
		ArithAbort:           flag(optArithAbort),
		AnsiNullDefaultOn:    flag(optAnsiNullDefaultOn),
		AnsiWarnings:         flag(optAnsiWarnings),
		AnsiPadding:          flag(optAnsiPadding),
		AnsiNulls:            flag(optAnsiNulls),
		ConcatNullYieldsNull: flag(optConcatNullYieldsNull),
	}
}

// isolationFromEngine maps "read committed", "read committed snapshot",
// "repeatable read" and friends onto the isolation variants.
func isolationFromEngine(s string) database.IsolationLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "read committed") {
		return database.IsolationReadCommitted
	}
	l, err := database.ParseIsolationLevel(strings.ReplaceAll(s, " ", "_"))
	if err != nil {
		return database.IsolationDefault
	}
	return l
}
