// Package user resolves the member behind a request and drives the login,
// logout and account mutation transitions.
//
// A User starts unresolved and becomes either resolved (member data loaded)
// or anonymous. Resolution from the session marks the user as logged in, as
// does every successful Login.
package user

import (
	"context"
	"crypto/subtle"
	"strconv"
	"time"

	"github.com/samber/oops"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/errutil"
	"github.com/atinyakov/memberauth/internal/hash"
	"github.com/atinyakov/memberauth/internal/models"
)

// RecordStore is the row storage the resolver reads and writes.
type RecordStore interface {
	Get(ctx context.Context, table string, where models.Where) (models.RowSet, error)
	Insert(ctx context.Context, table string, fields models.Fields) error
	Update(ctx context.Context, table string, id int64, fields models.Fields) error
	Delete(ctx context.Context, table string, where models.Where) (int64, error)
}

// SessionStore is the server-side state of the current visitor.
type SessionStore interface {
	Exists(key string) bool
	Get(key string) (any, bool)
	Put(key string, value any)
	Delete(key string)
}

// CookieStore is the client-side state of the current visitor.
type CookieStore interface {
	Exists(name string) bool
	Get(name string) (string, bool)
	Put(name, value string, ttl time.Duration)
	Delete(name string)
}

// Settings names the session key and remember-me cookie.
type Settings struct {
	SessionKey   string
	CookieName   string
	CookieExpiry time.Duration
}

// DefaultSettings returns the stock session key and cookie parameters.
func DefaultSettings() Settings {
	return Settings{
		SessionKey:   "user",
		CookieName:   "hash",
		CookieExpiry: 604800 * time.Second,
	}
}

// Deps bundles the collaborators of a User. Sessions and Cookies are scoped
// to a single request.
type Deps struct {
	Records  RecordStore
	Sessions SessionStore
	Cookies  CookieStore
	Settings Settings
	Log      *zap.Logger
}

// User is the identity resolved for one request.
type User struct {
	deps     Deps
	data     *models.User
	loggedIn bool
}

func newUser(deps Deps) *User {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &User{deps: deps}
}

// New resolves a user. A non-empty identifier (id or username) is looked up
// without touching the session. An empty identifier resolves the member
// recorded in the session; a session pointing at a missing member is cleared.
func New(ctx context.Context, deps Deps, identifier string) (*User, error) {
	u := newUser(deps)
	if identifier != "" {
		if _, err := u.Find(ctx, identifier); err != nil {
			return nil, err
		}
		return u, nil
	}

	key := u.deps.Settings.SessionKey
	v, ok := u.deps.Sessions.Get(key)
	if !ok {
		return u, nil
	}
	id, ok := sessionUserID(v)
	if !ok {
		u.deps.Sessions.Delete(key)
		return u, nil
	}
	found, err := u.findBy(ctx, "id", id)
	if err != nil {
		return nil, err
	}
	if !found {
		u.deps.Log.Info("clearing session for missing user", zap.Int64("user_id", id))
		u.deps.Sessions.Delete(key)
		return u, nil
	}
	u.loggedIn = true
	return u, nil
}

// Resolve returns the user for the current request. When the session holds
// no member but the remember-me cookie does, the session is re-established
// from the persistent token first. A cookie matching no token is removed.
func Resolve(ctx context.Context, deps Deps) (*User, error) {
	s := deps.Settings
	value, ok := deps.Cookies.Get(s.CookieName)
	if !ok || deps.Sessions.Exists(s.SessionKey) {
		return New(ctx, deps, "")
	}

	set, err := deps.Records.Get(ctx, models.TableSessions, models.Eq("hash", value))
	if err != nil {
		return nil, err
	}
	row, found := set.First()
	if !found {
		deps.Cookies.Delete(s.CookieName)
		return New(ctx, deps, "")
	}
	tok, err := models.TokenFromRow(row)
	if err != nil {
		return nil, err
	}

	u := newUser(deps)
	found, err = u.findBy(ctx, "id", tok.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		deps.Cookies.Delete(s.CookieName)
		return u, nil
	}
	if _, err := u.Login(ctx, "", "", false); err != nil {
		return nil, err
	}
	return u, nil
}

// Lookup resolves another member by id or username using the same
// collaborators. The result is never logged in.
func (u *User) Lookup(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return newUser(u.deps), nil
	}
	return New(ctx, u.deps, identifier)
}

// Find loads the member by id when identifier is numeric, otherwise by username.
func (u *User) Find(ctx context.Context, identifier string) (bool, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return u.findBy(ctx, "id", id)
	}
	return u.findBy(ctx, "username", identifier)
}

func (u *User) findBy(ctx context.Context, field string, value any) (bool, error) {
	data, err := u.load(ctx, field, value)
	if err != nil || data == nil {
		return false, err
	}
	u.data = data
	return true, nil
}

// load returns the first member whose field equals value, or nil.
func (u *User) load(ctx context.Context, field string, value any) (*models.User, error) {
	set, err := u.deps.Records.Get(ctx, models.TableUsers, models.Eq(field, value))
	if err != nil {
		return nil, err
	}
	row, ok := set.First()
	if !ok {
		return nil, nil
	}
	return models.UserFromRow(row)
}

// Login authenticates the member. With both credentials empty and a member
// already loaded it only re-establishes the session. Unknown usernames and
// wrong passwords both yield false with a nil error and leave the user as it
// was. A successful login moves the session to a fresh id.
func (u *User) Login(ctx context.Context, username, password string, remember bool) (bool, error) {
	if username == "" && password == "" && u.Exists() {
		if err := u.renewSession(); err != nil {
			return false, err
		}
		u.deps.Sessions.Put(u.deps.Settings.SessionKey, u.data.ID)
		u.loggedIn = true
		return true, nil
	}

	member, err := u.load(ctx, "username", username)
	if err != nil || member == nil {
		return false, err
	}
	got := hash.Make(password, member.Salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(member.PasswordHash)) != 1 {
		return false, nil
	}

	if remember {
		if err := u.remember(ctx, member.ID); err != nil {
			return false, err
		}
	}
	if err := u.renewSession(); err != nil {
		return false, err
	}
	u.data = member
	u.deps.Sessions.Put(u.deps.Settings.SessionKey, member.ID)
	u.loggedIn = true
	return true, nil
}

// renewer is implemented by sessions that can move their state to a new id.
type renewer interface {
	Regenerate() error
}

func (u *User) renewSession() error {
	r, ok := u.deps.Sessions.(renewer)
	if !ok {
		return nil
	}
	if err := r.Regenerate(); err != nil {
		return oops.Code(errutil.CodeEntropyUnavailable).Wrapf(err, "regenerate session")
	}
	return nil
}

// remember reuses the member's persistent token or creates one, then mirrors
// it into the cookie.
func (u *User) remember(ctx context.Context, userID int64) error {
	value, err := u.persistentToken(ctx, userID)
	if err != nil {
		return err
	}
	u.deps.Cookies.Put(u.deps.Settings.CookieName, value, u.deps.Settings.CookieExpiry)
	return nil
}

func (u *User) persistentToken(ctx context.Context, userID int64) (string, error) {
	existing, err := u.existingToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := u.deps.Records.Update(ctx, models.TableSessions, existing.ID,
			models.Fields{"created_at": time.Now().UTC()}); err != nil {
			u.deps.Log.Warn("failed to refresh login token", zap.Int64("user_id", userID), zap.Error(err))
		}
		return existing.Hash, nil
	}

	value := hash.Unique()
	insertErr := u.deps.Records.Insert(ctx, models.TableSessions, models.Fields{
		"user_id":    userID,
		"hash":       value,
		"created_at": time.Now().UTC(),
	})
	if insertErr == nil {
		return value, nil
	}

	// A concurrent login may have inserted the row first.
	existing, err = u.existingToken(ctx, userID)
	if err != nil || existing == nil {
		return "", insertErr
	}
	return existing.Hash, nil
}

func (u *User) existingToken(ctx context.Context, userID int64) (*models.PersistentToken, error) {
	set, err := u.deps.Records.Get(ctx, models.TableSessions, models.Eq("user_id", userID))
	if err != nil {
		return nil, err
	}
	row, ok := set.First()
	if !ok {
		return nil, nil
	}
	return models.TokenFromRow(row)
}

// Logout removes the member's persistent tokens, the remember-me cookie and
// the session key, then moves the session to a fresh id. Every step runs
// even when an earlier one fails.
func (u *User) Logout(ctx context.Context) error {
	s := u.deps.Settings
	var errs error

	id, known := int64(0), false
	if u.data != nil {
		id, known = u.data.ID, true
	} else if v, ok := u.deps.Sessions.Get(s.SessionKey); ok {
		id, known = sessionUserID(v)
	}
	if known {
		_, err := u.deps.Records.Delete(ctx, models.TableSessions, models.Eq("user_id", id))
		errs = multierr.Append(errs, err)
	}
	if value, ok := u.deps.Cookies.Get(s.CookieName); ok {
		_, err := u.deps.Records.Delete(ctx, models.TableSessions, models.Eq("hash", value))
		errs = multierr.Append(errs, err)
	}

	u.deps.Cookies.Delete(s.CookieName)
	u.deps.Sessions.Delete(s.SessionKey)
	u.loggedIn = false
	errs = multierr.Append(errs, u.renewSession())
	return errs
}

// Update writes fields to the member with id, or to the logged-in member
// when id is zero.
func (u *User) Update(ctx context.Context, fields models.Fields, id int64) error {
	if id == 0 {
		if !u.loggedIn || u.data == nil {
			return oops.Code(errutil.CodeUpdateFailed).Errorf("no logged in user to update")
		}
		id = u.data.ID
	}

	if err := u.deps.Records.Update(ctx, models.TableUsers, id, fields); err != nil {
		return oops.Code(errutil.CodeUpdateFailed).With("user_id", id).Wrapf(err, "update user")
	}
	if u.data != nil && u.data.ID == id {
		if _, err := u.findBy(ctx, "id", id); err != nil {
			return oops.Code(errutil.CodeUpdateFailed).With("user_id", id).Wrapf(err, "reload user")
		}
	}
	return nil
}

// Create inserts a new member.
func (u *User) Create(ctx context.Context, fields models.Fields) error {
	if err := u.deps.Records.Insert(ctx, models.TableUsers, fields); err != nil {
		return oops.Code(errutil.CodeCreateFailed).Wrapf(err, "create user")
	}
	return nil
}

// HasPermission reports whether the member's group grants key. Any lookup
// or decoding failure denies.
func (u *User) HasPermission(ctx context.Context, key string) bool {
	if u.data == nil {
		return false
	}
	set, err := u.deps.Records.Get(ctx, models.TableGroups, models.Eq("id", u.data.Group))
	if err != nil {
		u.deps.Log.Warn("failed to load group", zap.Int64("group", u.data.Group), zap.Error(err))
		return false
	}
	row, ok := set.First()
	if !ok {
		return false
	}
	group, err := models.GroupFromRow(row)
	if err != nil {
		return false
	}
	return ParsePermissions(group.Permissions).Has(key)
}

// Exists reports whether member data is loaded.
func (u *User) Exists() bool { return u.data != nil }

// Data returns the loaded member, or nil.
func (u *User) Data() *models.User { return u.data }

// IsLoggedIn reports whether the member was resolved from the session or
// has logged in during this request.
func (u *User) IsLoggedIn() bool { return u.loggedIn }

func sessionUserID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	}
	return 0, false
}
