package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/atinyakov/memberauth/internal/models"
)

// ErrDuplicate is returned by MemoryRecordStore when a unique column would repeat.
var ErrDuplicate = errors.New("duplicate value for unique column")

// UniqueColumns lists the unique indexes created by the schema migrations.
var UniqueColumns = map[string][]string{
	models.TableUsers:    {"username"},
	models.TableSessions: {"user_id", "hash"},
}

// MemoryRecordStore implements an in-memory record store for development and testing.
type MemoryRecordStore struct {
	mu     sync.Mutex
	tables map[string]*memTable
	unique map[string][]string
}

type memTable struct {
	rows   []models.Row
	nextID int64
}

// NewMemoryRecordStore creates an empty store enforcing UniqueColumns.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		tables: make(map[string]*memTable),
		unique: maps.Clone(UniqueColumns),
	}
}

// SeedGroups inserts the default permission groups, mirroring the schema migrations.
func SeedGroups(ctx context.Context, s *MemoryRecordStore) error {
	groups := []models.Fields{
		{"id": int64(1), "name": "Standard user", "permissions": "{}"},
		{"id": int64(2), "name": "Administrator", "permissions": `{"admin": true, "moderator": true}`},
	}
	for _, g := range groups {
		if err := s.Insert(ctx, models.TableGroups, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryRecordStore) table(name string) *memTable {
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{nextID: 1}
		s.tables[name] = t
	}
	return t
}

// Get returns copies of the rows of table matching where, in insertion order.
func (s *MemoryRecordStore) Get(ctx context.Context, table string, where models.Where) (models.RowSet, error) {
	if err := validate(table, where); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var set models.RowSet
	for _, row := range s.table(table).rows {
		if matches(row, where) {
			set = append(set, maps.Clone(row))
		}
	}
	return set, nil
}

// Insert adds a row, assigning an id when fields carries none.
func (s *MemoryRecordStore) Insert(ctx context.Context, table string, fields models.Fields) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrEmptyFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	row := models.Row(maps.Clone(fields))
	if _, ok := row["id"]; !ok {
		row["id"] = t.nextID
	}
	id, err := row.Int64("id")
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	row["id"] = id
	for _, other := range t.rows {
		if other["id"] == id {
			return fmt.Errorf("insert %s: %w: id", table, ErrDuplicate)
		}
	}
	if err := s.checkUnique(table, t, row, -1); err != nil {
		return err
	}
	if id >= t.nextID {
		t.nextID = id + 1
	}
	t.rows = append(t.rows, row)
	return nil
}

// Update sets fields on the row with the given id.
func (s *MemoryRecordStore) Update(ctx context.Context, table string, id int64, fields models.Fields) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrEmptyFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	for i, row := range t.rows {
		if row["id"] != id {
			continue
		}
		updated := maps.Clone(row)
		maps.Copy(updated, fields)
		updated["id"] = id
		if err := s.checkUnique(table, t, updated, i); err != nil {
			return err
		}
		t.rows[i] = updated
		return nil
	}
	return fmt.Errorf("update %s id %d: %w", table, id, ErrNoRowsAffected)
}

// Delete removes the rows matching where.
func (s *MemoryRecordStore) Delete(ctx context.Context, table string, where models.Where) (int64, error) {
	if err := validate(table, where); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	kept := t.rows[:0]
	var removed int64
	for _, row := range t.rows {
		if matches(row, where) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return removed, nil
}

func (s *MemoryRecordStore) checkUnique(table string, t *memTable, row models.Row, skip int) error {
	for _, col := range s.unique[table] {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		for i, other := range t.rows {
			if i == skip {
				continue
			}
			if c, ok := compare(other[col], v); ok && c == 0 {
				return fmt.Errorf("%s.%s: %w", table, col, ErrDuplicate)
			}
		}
	}
	return nil
}

func validate(table string, where models.Where) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if err := checkIdent(where.Field); err != nil {
		return err
	}
	return checkOp(where.Op)
}

func matches(row models.Row, where models.Where) bool {
	c, ok := compare(row[where.Field], where.Value)
	if !ok {
		return where.Op == "!=" || where.Op == "<>"
	}
	switch where.Op {
	case "=":
		return c == 0
	case "!=", "<>":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

// compare orders a and b when they are comparable. A numeric string compares
// as a number against a number.
func compare(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		switch {
		case sa < sb:
			return -1, true
		case sa > sb:
			return 1, true
		}
		return 0, true
	}
	na, aNum := number(a)
	nb, bNum := number(b)
	if aNum && bNum {
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
