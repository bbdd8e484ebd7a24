// Package middleware provides HTTP middlewares for identity resolution,
// access control and logging.
package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/cookie"
	"github.com/atinyakov/memberauth/internal/session"
	"github.com/atinyakov/memberauth/internal/user"
)

type ctxKey string

const userKey ctxKey = "user"

// Identity resolves the visitor for every request and stores the result in
// the request context.
//
// It must run after the session middleware. The visitor is taken from the
// session, or re-established from the remember-me cookie when the session
// is empty. Anonymous visitors get a User with IsLoggedIn false.
func Identity(records user.RecordStore, settings user.Settings, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil {
				log.Error("identity middleware used without a session")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			u, err := user.Resolve(r.Context(), user.Deps{
				Records:  records,
				Sessions: sess,
				Cookies:  cookie.NewJar(w, r),
				Settings: settings,
				Log:      log,
			})
			if err != nil {
				log.Error("failed to resolve user", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequireLogin sends visitors who are not logged in to the home page.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFromContext(r.Context())
		if u == nil || !u.IsLoggedIn() {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the User stored by Identity, or nil.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(userKey).(*user.User)
	return u
}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}
