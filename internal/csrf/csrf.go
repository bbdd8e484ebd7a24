// Package csrf issues and verifies single-use form tokens kept in the
// visitor's session.
package csrf

import (
	"crypto/subtle"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/atinyakov/memberauth/internal/errutil"
)

// DefaultKey is the session key holding the outstanding token.
const DefaultKey = "token"

// Store is the session state the manager reads and writes.
type Store interface {
	Exists(key string) bool
	Get(key string) (any, bool)
	Put(key string, value any)
	Delete(key string)
}

// atomicStore is implemented by stores that can test and remove a value in one step.
type atomicStore interface {
	CompareAndDelete(key string, match func(any) bool) bool
}

// Manager generates and checks tokens for one session.
type Manager struct {
	store Store
	key   string
}

// New returns a Manager storing its token under key.
func New(store Store, key string) *Manager {
	if key == "" {
		key = DefaultKey
	}
	return &Manager{store: store, key: key}
}

// Generate creates a fresh token, replacing any outstanding one.
func (m *Manager) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", oops.Code(errutil.CodeEntropyUnavailable).Wrapf(err, "generate csrf token")
	}
	token := id.String()
	m.store.Put(m.key, token)
	return token, nil
}

// Check reports whether token matches the outstanding one. A match consumes
// the stored token; a mismatch leaves it in place.
func (m *Manager) Check(token string) bool {
	if token == "" {
		return false
	}
	match := func(v any) bool {
		stored, ok := v.(string)
		return ok && stored != "" && subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1
	}

	if as, ok := m.store.(atomicStore); ok {
		return as.CompareAndDelete(m.key, match)
	}

	v, ok := m.store.Get(m.key)
	if !ok || !match(v) {
		return false
	}
	m.store.Delete(m.key)
	return true
}
