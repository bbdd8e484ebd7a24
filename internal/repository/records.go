// Package repository provides record stores backed by a SQL database or by
// process memory.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atinyakov/memberauth/internal/models"
)

var (
	// ErrNoRowsAffected is returned by Update when nothing matched the id.
	ErrNoRowsAffected = errors.New("no rows affected")
	// ErrInvalidIdentifier is returned for table or column names that are not plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidOperator is returned for comparison operators outside the allowed set.
	ErrInvalidOperator = errors.New("invalid operator")
	// ErrEmptyFields is returned when an insert or update has nothing to write.
	ErrEmptyFields = errors.New("no fields given")
)

// SQLRecordStore implements generic row access over database/sql.
type SQLRecordStore struct {
	// DB is the database handle for executing queries.
	DB      *sql.DB
	dialect Dialect
}

// NewSQLRecordStore creates a SQLRecordStore speaking the given dialect.
func NewSQLRecordStore(db *sql.DB, dialect Dialect) *SQLRecordStore {
	return &SQLRecordStore{DB: db, dialect: dialect}
}

// Get returns every row of table matching where.
func (s *SQLRecordStore) Get(ctx context.Context, table string, where models.Where) (models.RowSet, error) {
	cond, err := s.condition(where, 1)
	if err != nil {
		return nil, err
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", s.dialect.quote(table), cond)
	rows, err := s.DB.QueryContext(ctx, query, where.Value)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}

	var set models.RowSet
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		set = append(set, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return set, nil
}

// Insert adds a single row to table.
func (s *SQLRecordStore) Insert(ctx context.Context, table string, fields models.Fields) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	cols, args, err := s.columns(fields)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.quote(table), strings.Join(cols, ", "), s.dialect.placeholders(1, len(cols)))
	if _, err := s.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Update sets fields on the row of table identified by id.
func (s *SQLRecordStore) Update(ctx context.Context, table string, id int64, fields models.Fields) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	cols, args, err := s.columns(fields)
	if err != nil {
		return err
	}

	set := make([]string, len(cols))
	for i, col := range cols {
		set[i] = col + " = " + s.dialect.placeholder(i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.dialect.quote(table), strings.Join(set, ", "), s.dialect.quote("id"), s.dialect.placeholder(len(cols)+1))

	res, err := s.DB.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s id %d: %w", table, id, ErrNoRowsAffected)
	}
	return nil
}

// Delete removes the rows of table matching where and reports how many went.
func (s *SQLRecordStore) Delete(ctx context.Context, table string, where models.Where) (int64, error) {
	cond, err := s.condition(where, 1)
	if err != nil {
		return 0, err
	}
	if err := checkIdent(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.dialect.quote(table), cond)
	res, err := s.DB.ExecContext(ctx, query, where.Value)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLRecordStore) condition(where models.Where, n int) (string, error) {
	if err := checkIdent(where.Field); err != nil {
		return "", err
	}
	if err := checkOp(where.Op); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", s.dialect.quote(where.Field), where.Op, s.dialect.placeholder(n)), nil
}

// columns returns quoted column names in a stable order with matching args.
func (s *SQLRecordStore) columns(fields models.Fields) ([]string, []any, error) {
	if len(fields) == 0 {
		return nil, nil, ErrEmptyFields
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if err := checkIdent(name); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		cols[i] = s.dialect.quote(name)
		args[i] = fields[name]
	}
	return cols, args, nil
}
