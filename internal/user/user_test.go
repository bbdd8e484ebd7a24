package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/memberauth/internal/errutil"
	"github.com/atinyakov/memberauth/internal/hash"
	"github.com/atinyakov/memberauth/internal/models"
	"github.com/atinyakov/memberauth/internal/repository"
)

type fakeSession map[string]any

func (s fakeSession) Exists(key string) bool {
	_, ok := s[key]
	return ok
}

func (s fakeSession) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

func (s fakeSession) Put(key string, value any) { s[key] = value }
func (s fakeSession) Delete(key string)         { delete(s, key) }

type fakeCookies struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeCookies() *fakeCookies {
	return &fakeCookies{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCookies) Exists(name string) bool {
	_, ok := c.values[name]
	return ok
}

func (c *fakeCookies) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c *fakeCookies) Put(name, value string, ttl time.Duration) {
	c.values[name] = value
	c.ttls[name] = ttl
}

func (c *fakeCookies) Delete(name string) { delete(c.values, name) }

// failingRecords fails every write and optionally every read.
type failingRecords struct {
	*repository.MemoryRecordStore
	failGet bool
}

func (f failingRecords) Get(ctx context.Context, table string, where models.Where) (models.RowSet, error) {
	if f.failGet {
		return nil, errors.New("db down")
	}
	return f.MemoryRecordStore.Get(ctx, table, where)
}

func (f failingRecords) Insert(context.Context, string, models.Fields) error {
	return errors.New("insert failed")
}

func (f failingRecords) Update(context.Context, string, int64, models.Fields) error {
	return errors.New("update failed")
}

type env struct {
	records  *repository.MemoryRecordStore
	sessions fakeSession
	cookies  *fakeCookies
}

func newEnv(t *testing.T) *env {
	t.Helper()
	records := repository.NewMemoryRecordStore()
	require.NoError(t, repository.SeedGroups(context.Background(), records))
	return &env{records: records, sessions: fakeSession{}, cookies: newFakeCookies()}
}

func (e *env) deps() Deps {
	return Deps{Records: e.records, Sessions: e.sessions, Cookies: e.cookies, Settings: DefaultSettings()}
}

// register creates a member the way the registration page does.
func (e *env) register(t *testing.T, username, password string, group int64) int64 {
	t.Helper()
	ctx := context.Background()
	salt, err := hash.Salt(32)
	require.NoError(t, err)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	require.NoError(t, u.Create(ctx, models.Fields{
		"username": username,
		"password": hash.Make(password, salt),
		"salt":     salt,
		"name":     "Name of " + username,
		"joined":   time.Now(),
		"groups":   group,
	}))

	found, err := u.Find(ctx, username)
	require.NoError(t, err)
	require.True(t, found)
	return u.Data().ID
}

func TestLogin_Success(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.register(t, "alice", "secret1", 1)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	assert.False(t, u.IsLoggedIn())

	ok, err := u.Login(ctx, "alice", "secret1", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, u.IsLoggedIn())
	assert.Equal(t, id, e.sessions["user"])
	assert.False(t, e.cookies.Exists("hash"), "no cookie without remember")

	again, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	assert.True(t, again.IsLoggedIn())
	assert.Equal(t, "alice", again.Data().Username)
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "wrong"},
		{"unknown user", "bob", "secret1"},
		{"empty credentials without loaded user", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u, err := New(ctx, e.deps(), "")
			require.NoError(t, err)

			ok, err := u.Login(ctx, tc.username, tc.password, true)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.False(t, u.IsLoggedIn())
			assert.Empty(t, e.sessions)
			assert.False(t, e.cookies.Exists("hash"))
		})
	}
}

func TestLogin_ReauthenticateLoadedUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.register(t, "alice", "secret1", 1)

	u, err := New(ctx, e.deps(), "alice")
	require.NoError(t, err)
	require.True(t, u.Exists())
	assert.False(t, u.IsLoggedIn(), "explicit lookup never logs in")
	assert.Empty(t, e.sessions)

	ok, err := u.Login(ctx, "", "", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, u.IsLoggedIn())
	assert.Equal(t, id, e.sessions["user"])
}

func TestFind_NumericSelectsID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.register(t, "alice", "secret1", 1)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)

	found, err := u.Find(ctx, "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, u.Data().ID)

	found, err = u.Find(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "alice", u.Data().Username, "failed find keeps previous data")
}

func TestRememberMe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.register(t, "alice", "secret1", 1)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	ok, err := u.Login(ctx, "alice", "secret1", true)
	require.NoError(t, err)
	require.True(t, ok)

	cookie, ok := e.cookies.Get("hash")
	require.True(t, ok)
	assert.Len(t, cookie, 64)
	assert.Equal(t, 604800*time.Second, e.cookies.ttls["hash"])

	// A second remembered login reuses the stored token.
	ok, err = u.Login(ctx, "alice", "secret1", true)
	require.NoError(t, err)
	require.True(t, ok)
	again, _ := e.cookies.Get("hash")
	assert.Equal(t, cookie, again)
	set, err := e.records.Get(ctx, "users_session", models.Eq("user_id", id))
	require.NoError(t, err)
	assert.Equal(t, 1, set.Count())

	// New browser session, cookie kept.
	delete(e.sessions, "user")
	resolved, err := Resolve(ctx, e.deps())
	require.NoError(t, err)
	assert.True(t, resolved.IsLoggedIn())
	assert.Equal(t, id, resolved.Data().ID)
	assert.Equal(t, id, e.sessions["user"])
}

func TestResolve_UnknownCookie(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.cookies.Put("hash", "stale", time.Hour)

	u, err := Resolve(ctx, e.deps())
	require.NoError(t, err)
	assert.False(t, u.IsLoggedIn())
	assert.False(t, e.cookies.Exists("hash"), "unknown cookie is cleared")
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.register(t, "alice", "secret1", 1)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	ok, err := u.Login(ctx, "alice", "secret1", true)
	require.NoError(t, err)
	require.True(t, ok)
	cookie, _ := e.cookies.Get("hash")

	require.NoError(t, u.Logout(ctx))
	assert.False(t, u.IsLoggedIn())
	assert.False(t, e.sessions.Exists("user"))
	assert.False(t, e.cookies.Exists("hash"))
	set, err := e.records.Get(ctx, "users_session", models.Eq("user_id", id))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Count())

	// Replaying the old cookie no longer resolves anyone.
	e.cookies.Put("hash", cookie, time.Hour)
	resolved, err := Resolve(ctx, e.deps())
	require.NoError(t, err)
	assert.False(t, resolved.IsLoggedIn())
}

func TestLogout_WithoutLoadedUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.register(t, "alice", "secret1", 1)
	require.NoError(t, e.records.Insert(ctx, "users_session", models.Fields{"user_id": id, "hash": "h1"}))
	e.sessions.Put("user", id)
	e.cookies.Put("hash", "h1", time.Hour)

	u := newUser(e.deps())
	require.NoError(t, u.Logout(ctx))

	assert.Empty(t, e.sessions)
	assert.False(t, e.cookies.Exists("hash"))
	set, err := e.records.Get(ctx, "users_session", models.Eq("hash", "h1"))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Count())
}

func TestNew_StaleSessionCleared(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.sessions.Put("user", int64(42))

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	assert.False(t, u.IsLoggedIn())
	assert.False(t, u.Exists())
	assert.False(t, e.sessions.Exists("user"))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)

	anon, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	err = anon.Update(ctx, models.Fields{"name": "Nope"}, 0)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, errutil.CodeUpdateFailed))

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	ok, err := u.Login(ctx, "alice", "secret1", false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, u.Update(ctx, models.Fields{"name": "Alice Liddell"}, 0))
	assert.Equal(t, "Alice Liddell", u.Data().Name)

	reloaded, err := New(ctx, e.deps(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", reloaded.Data().Name)

	err = u.Update(ctx, models.Fields{"name": "Ghost"}, 999)
	assert.True(t, errutil.HasCode(err, errutil.CodeUpdateFailed))
}

func TestCreate_Failures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	err = u.Create(ctx, models.Fields{"username": "alice", "password": "x", "salt": "y", "name": "Dup"})
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, errutil.CodeCreateFailed))
}

func TestStoreErrorsSurface(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)

	deps := e.deps()
	deps.Records = failingRecords{MemoryRecordStore: e.records}
	u, err := New(ctx, deps, "")
	require.NoError(t, err)

	ok, err := u.Login(ctx, "alice", "secret1", true)
	require.Error(t, err, "token insert failure must surface")
	assert.False(t, ok)
	assert.Empty(t, e.sessions, "session untouched on failure")

	deps.Records = failingRecords{MemoryRecordStore: e.records, failGet: true}
	e.sessions.Put("user", int64(1))
	_, err = New(ctx, deps, "")
	require.Error(t, err)
	assert.True(t, e.sessions.Exists("user"), "I/O failure must not clear the session")
}

func TestHasPermission(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.records.Insert(ctx, "groups", models.Fields{"id": int64(3), "name": "Admins only", "permissions": `{"admin":true}`}))
	e.register(t, "admin", "secret1", 3)
	e.register(t, "plain", "secret1", 1)
	e.register(t, "orphan", "secret1", 77)

	admin, err := New(ctx, e.deps(), "admin")
	require.NoError(t, err)
	assert.True(t, admin.HasPermission(ctx, "admin"))
	assert.False(t, admin.HasPermission(ctx, "moderator"))

	plain, err := New(ctx, e.deps(), "plain")
	require.NoError(t, err)
	assert.False(t, plain.HasPermission(ctx, "admin"))

	orphan, err := New(ctx, e.deps(), "orphan")
	require.NoError(t, err)
	assert.False(t, orphan.HasPermission(ctx, "admin"))

	anon, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	assert.False(t, anon.HasPermission(ctx, "admin"))

	broken := newUser(Deps{Records: failingRecords{MemoryRecordStore: e.records, failGet: true}, Settings: DefaultSettings()})
	broken.data = admin.Data()
	assert.False(t, broken.HasPermission(ctx, "admin"))
}

// renewingSession is a fakeSession that can also move to a fresh id.
type renewingSession struct {
	fakeSession
	renewals int
	err      error
}

func (s *renewingSession) Regenerate() error {
	if s.err != nil {
		return s.err
	}
	s.renewals++
	return nil
}

func TestLogin_RegeneratesSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)
	sess := &renewingSession{fakeSession: fakeSession{}}
	deps := e.deps()
	deps.Sessions = sess

	u, err := New(ctx, deps, "")
	require.NoError(t, err)

	ok, err := u.Login(ctx, "alice", "wrong", false)
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, 0, sess.renewals, "failed login keeps the session id")

	ok, err = u.Login(ctx, "alice", "secret1", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, sess.renewals)

	ok, err = u.Login(ctx, "", "", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, sess.renewals)

	require.NoError(t, u.Logout(ctx))
	assert.Equal(t, 3, sess.renewals)
}

func TestLogin_RegenerateFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)
	sess := &renewingSession{fakeSession: fakeSession{}, err: errors.New("no entropy")}
	deps := e.deps()
	deps.Sessions = sess

	u, err := New(ctx, deps, "")
	require.NoError(t, err)

	ok, err := u.Login(ctx, "alice", "secret1", false)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, errutil.CodeEntropyUnavailable))
	assert.False(t, ok)
	assert.False(t, u.IsLoggedIn())
	assert.False(t, sess.Exists("user"))
}

func TestLogin_FailureKeepsCurrentMember(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "alice", "secret1", 1)
	e.register(t, "bob", "secret2", 1)

	u, err := New(ctx, e.deps(), "")
	require.NoError(t, err)
	ok, err := u.Login(ctx, "alice", "secret1", false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = u.Login(ctx, "bob", "wrong", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, u.IsLoggedIn())
	assert.Equal(t, "alice", u.Data().Username)
}
