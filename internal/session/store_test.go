package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestSession_Values(t *testing.T) {
	st := NewStore(time.Hour)
	sess, err := st.New()
	require.NoError(t, err)

	assert.False(t, sess.Exists("user"))
	sess.Put("user", int64(5))
	v, ok := sess.Get("user")
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	sess.Delete("user")
	sess.Delete("user")
	assert.False(t, sess.Exists("user"))
}

func TestSession_Flash(t *testing.T) {
	st := NewStore(time.Hour)
	sess, err := st.New()
	require.NoError(t, err)

	sess.SetFlash("home", "You have been registered")
	msg, ok := sess.Flash("home")
	require.True(t, ok)
	assert.Equal(t, "You have been registered", msg)

	_, ok = sess.Flash("home")
	assert.False(t, ok, "flash must be shown once")
}

func TestSession_CompareAndDelete(t *testing.T) {
	st := NewStore(time.Hour)
	sess, err := st.New()
	require.NoError(t, err)
	sess.Put("token", "abc")

	assert.False(t, sess.CompareAndDelete("token", func(v any) bool { return v == "xyz" }))
	assert.True(t, sess.Exists("token"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess.CompareAndDelete("token", func(v any) bool { return v == "abc" }) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_Expiry(t *testing.T) {
	now := time.Now()
	st := NewStore(time.Minute)
	st.now = func() time.Time { return now }

	sess, err := st.New()
	require.NoError(t, err)
	assert.Len(t, sess.ID(), 64)

	_, ok := st.Load(sess.ID())
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = st.Load(sess.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len())
}

func TestStore_Sweep(t *testing.T) {
	now := time.Now()
	st := NewStore(time.Minute)
	st.now = func() time.Time { return now }

	_, err := st.New()
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	live, err := st.New()
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, st.Sweep())
	_, ok := st.Load(live.ID())
	assert.True(t, ok)
}

func TestStore_Janitor(t *testing.T) {
	st := NewStore(time.Millisecond)
	_, err := st.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st.StartJanitor(ctx, 5*time.Millisecond, zap.NewNop())

	assert.Eventually(t, func() bool { return st.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_JanitorStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	NewStore(time.Hour).StartJanitor(ctx, time.Millisecond, zap.NewNop())
	cancel()
}

func TestStore_StartIsLazy(t *testing.T) {
	st := NewStore(time.Hour)
	sess, err := st.Start()
	require.NoError(t, err)

	var issued []string
	sess.OnIssue(func(id string) { issued = append(issued, id) })

	assert.False(t, sess.Persisted())
	_, _ = sess.Flash("home")
	sess.Delete("token")
	assert.Equal(t, 0, st.Len(), "reads must not store the session")
	assert.Empty(t, issued)

	sess.Put("token", "abc")
	assert.True(t, sess.Persisted())
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, []string{sess.ID()}, issued)

	sess.Put("user", int64(1))
	assert.Len(t, issued, 1, "cookie is issued once")

	loaded, ok := st.Load(sess.ID())
	require.True(t, ok)
	v, ok := loaded.Get("token")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestSession_Regenerate(t *testing.T) {
	st := NewStore(time.Hour)
	sess, err := st.New()
	require.NoError(t, err)
	sess.Put("token", "abc")
	old := sess.ID()

	var issued string
	sess.OnIssue(func(id string) { issued = id })
	require.NoError(t, sess.Regenerate())

	assert.NotEqual(t, old, sess.ID())
	assert.Equal(t, sess.ID(), issued)
	assert.Equal(t, 1, st.Len())

	_, ok := st.Load(old)
	assert.False(t, ok, "old id must no longer resolve")

	renewed, ok := st.Load(sess.ID())
	require.True(t, ok)
	v, ok := renewed.Get("token")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestSession_RegenerateUnstored(t *testing.T) {
	st := NewStore(time.Hour)
	sess, err := st.Start()
	require.NoError(t, err)

	require.NoError(t, sess.Regenerate())
	assert.True(t, sess.Persisted())
	_, ok := st.Load(sess.ID())
	assert.True(t, ok)
}

func TestMiddleware(t *testing.T) {
	st := NewStore(time.Hour)
	var seen *Session
	write := false
	h := st.Middleware("sid", zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		if write {
			seen.Put("token", "abc")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, seen)
	assert.Empty(t, rec.Result().Cookies(), "untouched session must not be issued")
	assert.Equal(t, 0, st.Len())

	write = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, seen.ID(), cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	first := seen.ID()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, first, seen.ID())
	assert.Empty(t, rec.Result().Cookies(), "existing session must not be reissued")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "forged", seen.ID())
}
