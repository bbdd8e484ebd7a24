// Package service provides the account workflows behind the member pages,
// delegating persistence to the resolved member.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/atinyakov/memberauth/internal/hash"
	"github.com/atinyakov/memberauth/internal/models"
)

const (
	// SaltBytes is the amount of entropy in every new password salt.
	SaltBytes = 32
	// DefaultGroup is the group assigned at registration.
	DefaultGroup int64 = 1
)

// ErrWrongPassword is returned when the current password does not verify.
var ErrWrongPassword = errors.New("current password is incorrect")

// ErrNoAccount is returned when a workflow needs a loaded member and has none.
var ErrNoAccount = errors.New("no account loaded")

// Account is the member the workflows act upon.
type Account interface {
	// Create inserts a new member row.
	Create(ctx context.Context, fields models.Fields) error
	// Update overwrites fields on the member with id, or on the logged-in
	// member when id is zero.
	Update(ctx context.Context, fields models.Fields, id int64) error
	// Data returns the loaded member, or nil.
	Data() *models.User
}

// Registration holds the values submitted on the sign-up form.
type Registration struct {
	Username string
	Password string
	Name     string
}

// Service implements the account workflows.
type Service struct {
	now func() time.Time
}

// NewAccountService constructs a Service.
func NewAccountService() *Service {
	return &Service{now: time.Now}
}

// Register creates a member with a freshly salted password hash.
func (s *Service) Register(ctx context.Context, acct Account, reg Registration) error {
	salt, err := hash.Salt(SaltBytes)
	if err != nil {
		return err
	}
	return acct.Create(ctx, models.Fields{
		"username": strings.TrimSpace(reg.Username),
		"password": hash.Make(reg.Password, salt),
		"salt":     salt,
		"name":     strings.TrimSpace(reg.Name),
		"joined":   s.now().UTC(),
		"groups":   DefaultGroup,
	})
}

// ChangePassword verifies current and stores next under a new salt.
func (s *Service) ChangePassword(ctx context.Context, acct Account, current, next string) error {
	data := acct.Data()
	if data == nil {
		return ErrNoAccount
	}
	got := hash.Make(current, data.Salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(data.PasswordHash)) != 1 {
		return ErrWrongPassword
	}

	salt, err := hash.Salt(SaltBytes)
	if err != nil {
		return err
	}
	return acct.Update(ctx, models.Fields{
		"password": hash.Make(next, salt),
		"salt":     salt,
	}, data.ID)
}

// UpdateName changes the logged-in member's display name.
func (s *Service) UpdateName(ctx context.Context, acct Account, name string) error {
	return acct.Update(ctx, models.Fields{"name": strings.TrimSpace(name)}, 0)
}
