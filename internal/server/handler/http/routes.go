package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/middleware"
	"github.com/atinyakov/memberauth/internal/session"
	"github.com/atinyakov/memberauth/internal/user"
)

// NewRouter constructs the member site handler.
//
// Every request gets a session and a resolved identity before reaching the
// pages. Form posts must be url-encoded or multipart.
//
// Routes:
//
//	GET       /                → pages.Home
//	GET|POST  /register        → pages.RegisterForm / pages.Register
//	GET|POST  /login           → pages.LoginForm / pages.Login
//	POST      /logout          → pages.Logout
//	GET       /profile?user=   → pages.Profile
//	GET|POST  /update          → pages.UpdateForm / pages.Update (login required)
//	GET|POST  /changepassword  → pages.ChangePasswordForm / pages.ChangePassword (login required)
func NewRouter(
	pages *PageHandler,
	sessions *session.Store,
	records user.RecordStore,
	settings user.Settings,
	sessionCookie string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.AllowContentType("application/x-www-form-urlencoded", "multipart/form-data"))
	r.Use(sessions.Middleware(sessionCookie, logger))
	r.Use(middleware.Identity(records, settings, logger))

	r.Get("/", pages.Home)
	r.Get("/profile", pages.Profile)

	r.Get("/register", pages.RegisterForm)
	r.Post("/register", pages.Register)
	r.Get("/login", pages.LoginForm)
	r.Post("/login", pages.Login)
	r.Post("/logout", pages.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireLogin)
		r.Get("/update", pages.UpdateForm)
		r.Post("/update", pages.Update)
		r.Get("/changepassword", pages.ChangePasswordForm)
		r.Post("/changepassword", pages.ChangePassword)
	})

	r.NotFound(pages.NotFound)

	return r
}
