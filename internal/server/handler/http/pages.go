package http

import (
	"net/http"

	"github.com/atinyakov/memberauth/internal/cookie"
	"github.com/atinyakov/memberauth/internal/middleware"
	"github.com/atinyakov/memberauth/internal/session"
)

const (
	flashKey         = "home"
	cookieConsentKey = "accept-cookies"
)

// Home greets members and points visitors to the login and sign-up pages.
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := middleware.UserFromContext(ctx)
	jar := cookie.NewJar(w, r)

	if r.URL.Query().Has(cookieConsentKey) {
		jar.Put(cookieConsentKey, "true", h.BannerExpiry)
	}

	data := pageData{Title: "Home"}
	data.Flash, _ = session.FromContext(ctx).Flash(flashKey)

	if !u.IsLoggedIn() {
		data.ShowBanner = !jar.Exists(cookieConsentKey)
		h.render(w, http.StatusOK, "index", data)
		return
	}

	data.Member = u.Data()
	data.Admin = u.HasPermission(ctx, "admin")
	data.Moderator = u.HasPermission(ctx, "moderator")
	h.renderForm(w, r, http.StatusOK, "index", data)
}

// Profile shows the public details of the member named by ?user=.
func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("user")
	if name == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	other, err := middleware.UserFromContext(r.Context()).Lookup(r.Context(), name)
	if err != nil {
		h.fail(w, "failed to load profile", err)
		return
	}
	if !other.Exists() {
		h.NotFound(w, r)
		return
	}
	h.render(w, http.StatusOK, "profile", pageData{Title: other.Data().Username, Profile: other.Data()})
}

// NotFound renders the 404 page.
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusNotFound, "notfound", pageData{Title: "Not found"})
}
