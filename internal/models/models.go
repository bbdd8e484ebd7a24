// Package models defines the core data structures for members, groups and
// the generic rows exchanged with record stores.
package models

import (
	"fmt"
	"strconv"
	"time"
)

// Table names.
const (
	TableUsers    = "users"
	TableSessions = "users_session"
	TableGroups   = "groups"
)

// User represents a registered member.
type User struct {
	// ID is the unique identifier for the user.
	ID int64
	// Username is the unique login name chosen by the user.
	Username string
	// Name is the display name.
	Name string
	// PasswordHash is the hex digest of the password and Salt.
	PasswordHash string
	// Salt is regenerated on every password change.
	Salt string
	// Group references the permission-bearing group, 0 when none.
	Group int64
	// Joined is the registration time.
	Joined time.Time
}

// Group carries the raw permission document for a set of users.
type Group struct {
	ID          int64
	Name        string
	Permissions string
}

// PersistentToken binds a remember-me cookie value to a user.
type PersistentToken struct {
	ID        int64
	UserID    int64
	Hash      string
	CreatedAt time.Time
}

// UserFromRow decodes a users row.
func UserFromRow(r Row) (*User, error) {
	id, err := r.Int64("id")
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           id,
		Username:     r.String("username"),
		Name:         r.String("name"),
		PasswordHash: r.String("password"),
		Salt:         r.String("salt"),
		Joined:       r.Time("joined"),
	}
	if _, ok := r["groups"]; ok && r["groups"] != nil {
		if u.Group, err = r.Int64("groups"); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// GroupFromRow decodes a groups row.
func GroupFromRow(r Row) (*Group, error) {
	id, err := r.Int64("id")
	if err != nil {
		return nil, err
	}
	return &Group{ID: id, Name: r.String("name"), Permissions: r.String("permissions")}, nil
}

// TokenFromRow decodes a users_session row.
func TokenFromRow(r Row) (*PersistentToken, error) {
	userID, err := r.Int64("user_id")
	if err != nil {
		return nil, err
	}
	t := &PersistentToken{UserID: userID, Hash: r.String("hash"), CreatedAt: r.Time("created_at")}
	if _, ok := r["id"]; ok {
		if t.ID, err = r.Int64("id"); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Fields is a column to value mapping used for inserts and updates.
type Fields map[string]any

// Where is a single comparison predicate: Field Op Value.
type Where struct {
	Field string
	Op    string
	Value any
}

// Eq builds an equality predicate.
func Eq(field string, value any) Where {
	return Where{Field: field, Op: "=", Value: value}
}

// Row is one result row keyed by column name.
type Row map[string]any

// String returns the column as a string, empty when absent.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an integer.
func (r Row) Int64(col string) (int64, error) {
	switch v := r[col].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return parseInt(col, v)
	case []byte:
		return parseInt(col, string(v))
	case nil:
		return 0, fmt.Errorf("column %s: missing", col)
	default:
		return 0, fmt.Errorf("column %s: unexpected type %T", col, v)
	}
}

// Time returns the column as a time, zero when absent or unparseable.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	default:
		return time.Time{}
	}
}

func parseInt(col, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return n, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// RowSet is the ordered result of a query.
type RowSet []Row

// Count returns the number of rows.
func (s RowSet) Count() int { return len(s) }

// First returns the first row, if any.
func (s RowSet) First() (Row, bool) {
	if len(s) == 0 {
		return nil, false
	}
	return s[0], true
}
