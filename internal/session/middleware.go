package session

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session attached by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}

// Middleware attaches the visitor's session to the request context. A
// visitor without a live session gets a fresh one whose cookie is issued
// only when the session is first written to.
func (st *Store) Middleware(cookieName string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sess *Session
			if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
				sess, _ = st.Load(c.Value)
			}
			if sess == nil {
				var err error
				if sess, err = st.Start(); err != nil {
					log.Error("failed to start session", zap.Error(err))
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
			}

			sess.OnIssue(func(id string) {
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteLaxMode,
				})
			})
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
		})
	}
}
