// Package session keeps server-side session state in memory, keyed by an
// opaque id carried in a cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultLifetime is the idle time after which a session expires.
const DefaultLifetime = 24 * time.Hour

const idBytes = 32

// entry is the shared state behind a session id.
type entry struct {
	mu        sync.Mutex
	id        string
	persisted bool
	values    map[string]any
	expiresAt time.Time
}

// Session is one request's handle on a visitor's state. A session begun by
// Store.Start is held by the store only after its first write.
type Session struct {
	store *Store
	e     *entry
	issue func(id string)
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.id
}

// Persisted reports whether the session is held by its store.
func (s *Session) Persisted() bool {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.persisted
}

// OnIssue registers fn to receive the id whenever the session cookie must be
// sent: on the first write and after Regenerate.
func (s *Session) OnIssue(fn func(id string)) {
	s.issue = fn
}

// Exists reports whether key is set.
func (s *Session) Exists(key string) bool {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	_, ok := s.e.values[key]
	return ok
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	v, ok := s.e.values[key]
	return v, ok
}

// Put stores value under key, replacing any previous value.
func (s *Session) Put(key string, value any) {
	s.e.mu.Lock()
	s.e.values[key] = value
	pending := !s.e.persisted
	s.e.persisted = true
	id := s.e.id
	s.e.mu.Unlock()

	if pending {
		s.store.add(id, s.e)
		s.sendCookie(id)
	}
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Session) Delete(key string) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	delete(s.e.values, key)
}

// CompareAndDelete removes key only if its current value satisfies match.
func (s *Session) CompareAndDelete(key string, match func(any) bool) bool {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	v, ok := s.e.values[key]
	if !ok || !match(v) {
		return false
	}
	delete(s.e.values, key)
	return true
}

// SetFlash stores a message to be shown once.
func (s *Session) SetFlash(key, message string) {
	s.Put(key, message)
}

// Flash returns and clears the message stored under key.
func (s *Session) Flash(key string) (string, bool) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	v, ok := s.e.values[key]
	if !ok {
		return "", false
	}
	delete(s.e.values, key)
	msg, ok := v.(string)
	return msg, ok
}

// Regenerate moves the session values to a fresh id and forgets the old one,
// so an id known before a login or logout no longer resolves. The session is
// stored and its cookie reissued.
func (s *Session) Regenerate() error {
	id, err := generateID(idBytes)
	if err != nil {
		return err
	}

	st := s.store
	st.mu.Lock()
	s.e.mu.Lock()
	old, wasPersisted := s.e.id, s.e.persisted
	s.e.id, s.e.persisted = id, true
	s.e.expiresAt = st.now().Add(st.lifetime)
	s.e.mu.Unlock()
	if wasPersisted {
		delete(st.sessions, old)
	}
	st.sessions[id] = s.e
	st.mu.Unlock()

	s.sendCookie(id)
	return nil
}

func (s *Session) sendCookie(id string) {
	if s.issue != nil {
		s.issue(id)
	}
}

// Store holds live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	lifetime time.Duration
	now      func() time.Time
}

// NewStore creates an empty store. A non-positive lifetime selects DefaultLifetime.
func NewStore(lifetime time.Duration) *Store {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Store{
		sessions: make(map[string]*entry),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Start returns a session with a fresh random id. It costs the store nothing
// until something is written to it.
func (st *Store) Start() (*Session, error) {
	id, err := generateID(idBytes)
	if err != nil {
		return nil, err
	}
	return &Session{store: st, e: &entry{
		id:        id,
		values:    make(map[string]any),
		expiresAt: st.now().Add(st.lifetime),
	}}, nil
}

// New starts a session and stores it immediately.
func (st *Store) New() (*Session, error) {
	sess, err := st.Start()
	if err != nil {
		return nil, err
	}
	sess.e.persisted = true
	st.add(sess.e.id, sess.e)
	return sess, nil
}

func (st *Store) add(id string, e *entry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = e
}

// Load returns a handle on the live session with id and extends its expiry.
func (st *Store) Load(id string) (*Session, bool) {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := st.now()
	e.mu.Lock()
	expired := now.After(e.expiresAt)
	if !expired {
		e.expiresAt = now.Add(st.lifetime)
	}
	e.mu.Unlock()

	if expired {
		st.Destroy(id)
		return nil, false
	}
	return &Session{store: st, e: e}, true
}

// Destroy drops the session with id.
func (st *Store) Destroy(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of sessions held, expired or not.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (st *Store) Sweep() int {
	now := st.now()
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, e := range st.sessions {
		e.mu.Lock()
		expired := now.After(e.expiresAt)
		e.mu.Unlock()
		if expired {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired sessions every interval until ctx is done.
func (st *Store) StartJanitor(ctx context.Context, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := st.Sweep(); removed > 0 {
					log.Info("swept expired sessions", zap.Int("removed", removed))
				}
			}
		}
	}()
}

func generateID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
