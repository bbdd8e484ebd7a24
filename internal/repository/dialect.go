package repository

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect describes how a SQL backend spells placeholders and identifiers.
type Dialect struct {
	// Name is the goose dialect name.
	Name        string
	placeholder func(n int) string
	quote       func(ident string) string
}

var (
	// Postgres numbers its placeholders and quotes identifiers with double quotes.
	Postgres = Dialect{
		Name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		quote:       func(ident string) string { return `"` + ident + `"` },
	}
	// MySQL uses positional placeholders and backtick quoting.
	MySQL = Dialect{
		Name:        "mysql",
		placeholder: func(int) string { return "?" },
		quote:       func(ident string) string { return "`" + ident + "`" },
	}
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var operators = map[string]struct{}{
	"=": {}, "!=": {}, "<>": {}, ">": {}, "<": {}, ">=": {}, "<=": {},
}

func checkIdent(ident string) error {
	if !identPattern.MatchString(ident) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, ident)
	}
	return nil
}

func checkOp(op string) error {
	if _, ok := operators[op]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidOperator, op)
	}
	return nil
}

func (d Dialect) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.placeholder(from + i)
	}
	return strings.Join(ph, ", ")
}
