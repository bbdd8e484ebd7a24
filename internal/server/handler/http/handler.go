// Package http provides the HTML pages of the member site and the router
// that mounts them.
package http

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/csrf"
	"github.com/atinyakov/memberauth/internal/errutil"
	"github.com/atinyakov/memberauth/internal/models"
	"github.com/atinyakov/memberauth/internal/service"
	"github.com/atinyakov/memberauth/internal/session"
	"github.com/atinyakov/memberauth/internal/validate"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"index", "login", "register", "update", "changepassword", "profile", "notfound"}

// AccountService defines the account workflows required by the pages.
type AccountService interface {
	// Register creates a member from the sign-up form.
	Register(ctx context.Context, acct service.Account, reg service.Registration) error
	// ChangePassword verifies the current password and stores a new one.
	ChangePassword(ctx context.Context, acct service.Account, current, next string) error
	// UpdateName changes the logged-in member's display name.
	UpdateName(ctx context.Context, acct service.Account, name string) error
}

// PageHandler serves the member pages.
type PageHandler struct {
	// Accounts performs the account workflows.
	Accounts AccountService
	// Validator checks submitted forms.
	Validator *validate.Validator
	// TokenKey is the session key of the form token.
	TokenKey string
	// BannerExpiry is how long the cookie consent is remembered.
	BannerExpiry time.Duration
	// Log receives request failures.
	Log *zap.Logger

	pages map[string]*template.Template
}

// NewPageHandler parses the embedded templates and returns a ready handler.
func NewPageHandler(accounts AccountService, validator *validate.Validator, tokenKey string, bannerExpiry time.Duration, log *zap.Logger) (*PageHandler, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &PageHandler{
		Accounts:     accounts,
		Validator:    validator,
		TokenKey:     tokenKey,
		BannerExpiry: bannerExpiry,
		Log:          log,
		pages:        pages,
	}, nil
}

// pageData is the view model shared by every template.
type pageData struct {
	Title      string
	Flash      string
	Message    string
	Errors     []string
	Token      string
	Form       map[string]string
	Member     *models.User
	Profile    *models.User
	Admin      bool
	Moderator  bool
	ShowBanner bool
}

func (h *PageHandler) render(w http.ResponseWriter, status int, name string, data pageData) {
	if data.Form == nil {
		data.Form = map[string]string{}
	}
	var buf bytes.Buffer
	if err := h.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.Log.Error("failed to render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderForm issues a fresh form token and renders the page.
func (h *PageHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	token, err := h.csrf(r).Generate()
	if err != nil {
		h.fail(w, "failed to generate form token", err)
		return
	}
	data.Token = token
	h.render(w, status, name, data)
}

func (h *PageHandler) csrf(r *http.Request) *csrf.Manager {
	return csrf.New(session.FromContext(r.Context()), h.TokenKey)
}

// checkToken verifies the submitted form token. On failure the form is
// rendered again and false is returned.
func (h *PageHandler) checkToken(w http.ResponseWriter, r *http.Request, name string, data pageData) bool {
	if h.csrf(r).Check(r.PostFormValue("token")) {
		return true
	}
	data.Errors = []string{"Your form has expired, please try again."}
	h.renderForm(w, r, http.StatusForbidden, name, data)
	return false
}

func (h *PageHandler) fail(w http.ResponseWriter, msg string, err error) {
	errutil.LogError(h.Log, msg, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
