package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/atinyakov/memberauth/internal/errutil"
	"github.com/atinyakov/memberauth/internal/middleware"
	"github.com/atinyakov/memberauth/internal/models"
	"github.com/atinyakov/memberauth/internal/service"
	"github.com/atinyakov/memberauth/internal/session"
	"github.com/atinyakov/memberauth/internal/validate"
)

var (
	registerRules = []validate.Field{
		validate.For("username", validate.Required(), validate.Min(2), validate.Max(20), validate.Unique(models.TableUsers)),
		validate.For("password", validate.Required(), validate.Min(6)),
		validate.For("password_again", validate.Required(), validate.Matches("password")),
		validate.For("name", validate.Required(), validate.Min(2), validate.Max(50)),
	}
	loginRules = []validate.Field{
		validate.For("username", validate.Required()),
		validate.For("password", validate.Required()),
	}
	updateRules = []validate.Field{
		validate.For("name", validate.Required(), validate.Min(2), validate.Max(50)),
	}
	passwordRules = []validate.Field{
		validate.For("password_current", validate.Required(), validate.Min(6)),
		validate.For("password_new", validate.Required(), validate.Min(6)),
		validate.For("password_new_again", validate.Required(), validate.Min(6), validate.Matches("password_new")),
	}
)

// LoginForm renders the login page.
func (h *PageHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "login", pageData{Title: "Log in"})
}

// Login authenticates the submitted credentials and, when asked, remembers
// the member on this browser.
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Title: "Log in", Form: map[string]string{"username": r.PostFormValue("username")}}
	if !h.checkToken(w, r, "login", data) {
		return
	}

	res, err := h.Validator.Check(ctx, r.PostForm, loginRules...)
	if err != nil {
		h.fail(w, "failed to validate login", err)
		return
	}
	if !res.Passed() {
		data.Errors = res.Errors
		h.renderForm(w, r, http.StatusUnprocessableEntity, "login", data)
		return
	}

	u := middleware.UserFromContext(ctx)
	username := strings.TrimSpace(r.PostFormValue("username"))
	ok, err := u.Login(ctx, username, r.PostFormValue("password"), r.PostFormValue("remember") != "")
	if err != nil {
		h.fail(w, "failed to log in", err)
		return
	}
	if !ok {
		data.Message = "Sorry, logging in failed."
		h.renderForm(w, r, http.StatusUnauthorized, "login", data)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// RegisterForm renders the sign-up page.
func (h *PageHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "register", pageData{Title: "Register"})
}

// Register creates a member from the sign-up form.
func (h *PageHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Title: "Register", Form: map[string]string{
		"username": r.PostFormValue("username"),
		"name":     r.PostFormValue("name"),
	}}
	if !h.checkToken(w, r, "register", data) {
		return
	}

	res, err := h.Validator.Check(ctx, r.PostForm, registerRules...)
	if err != nil {
		h.fail(w, "failed to validate registration", err)
		return
	}
	if !res.Passed() {
		data.Errors = res.Errors
		h.renderForm(w, r, http.StatusUnprocessableEntity, "register", data)
		return
	}

	err = h.Accounts.Register(ctx, middleware.UserFromContext(ctx), service.Registration{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
		Name:     r.PostFormValue("name"),
	})
	if errutil.HasCode(err, errutil.CodeCreateFailed) {
		errutil.LogError(h.Log, "failed to create account", err)
		data.Message = "There was a problem creating your account."
		h.renderForm(w, r, http.StatusInternalServerError, "register", data)
		return
	}
	if err != nil {
		h.fail(w, "failed to register", err)
		return
	}

	session.FromContext(ctx).SetFlash(flashKey, "You have been registered and can now log in!")
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout ends the member's session and forgets this browser.
func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.csrf(r).Check(r.PostFormValue("token")) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := middleware.UserFromContext(ctx).Logout(ctx); err != nil {
		errutil.LogError(h.Log, "logout incomplete", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// UpdateForm renders the profile update page.
func (h *PageHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	h.renderForm(w, r, http.StatusOK, "update", pageData{
		Title: "Update details",
		Form:  map[string]string{"name": u.Data().Name},
	})
}

// Update changes the member's display name.
func (h *PageHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Title: "Update details", Form: map[string]string{"name": r.PostFormValue("name")}}
	if !h.checkToken(w, r, "update", data) {
		return
	}

	res, err := h.Validator.Check(ctx, r.PostForm, updateRules...)
	if err != nil {
		h.fail(w, "failed to validate update", err)
		return
	}
	if !res.Passed() {
		data.Errors = res.Errors
		h.renderForm(w, r, http.StatusUnprocessableEntity, "update", data)
		return
	}

	err = h.Accounts.UpdateName(ctx, middleware.UserFromContext(ctx), r.PostFormValue("name"))
	if err != nil {
		errutil.LogError(h.Log, "failed to update details", err)
		data.Message = "There was a problem updating your details."
		h.renderForm(w, r, http.StatusInternalServerError, "update", data)
		return
	}

	session.FromContext(ctx).SetFlash(flashKey, "Details updated successfully!")
	http.Redirect(w, r, "/", http.StatusFound)
}

// ChangePasswordForm renders the password change page.
func (h *PageHandler) ChangePasswordForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "changepassword", pageData{Title: "Change password"})
}

// ChangePassword replaces the member's password after verifying the current one.
func (h *PageHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Title: "Change password"}
	if !h.checkToken(w, r, "changepassword", data) {
		return
	}

	res, err := h.Validator.Check(ctx, r.PostForm, passwordRules...)
	if err != nil {
		h.fail(w, "failed to validate password change", err)
		return
	}
	if !res.Passed() {
		data.Errors = res.Errors
		h.renderForm(w, r, http.StatusUnprocessableEntity, "changepassword", data)
		return
	}

	err = h.Accounts.ChangePassword(ctx, middleware.UserFromContext(ctx),
		r.PostFormValue("password_current"), r.PostFormValue("password_new"))
	switch {
	case errors.Is(err, service.ErrWrongPassword):
		data.Message = "Your current password is incorrect."
		h.renderForm(w, r, http.StatusUnprocessableEntity, "changepassword", data)
		return
	case errutil.HasCode(err, errutil.CodeUpdateFailed):
		errutil.LogError(h.Log, "failed to change password", err)
		data.Message = "There was a problem changing your password."
		h.renderForm(w, r, http.StatusInternalServerError, "changepassword", data)
		return
	case err != nil:
		h.fail(w, "failed to change password", err)
		return
	}

	session.FromContext(ctx).SetFlash(flashKey, "Your password has been changed successfully.")
	http.Redirect(w, r, "/", http.StatusFound)
}
