package service

import (
	"time"

	"snowshare/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

// AccessGate decides whether a share may be read. It runs before any file or
// archive byte is written to the client.
type AccessGate struct {
	now func() time.Time
}

// NewAccessGate creates an AccessGate using the wall clock.
func NewAccessGate() *AccessGate {
	return &AccessGate{now: time.Now}
}

// CheckAvailable reports whether the share is still live, ignoring its
// password. Metadata endpoints use it on its own.
func (g *AccessGate) CheckAvailable(share *database.Share) error {
	if share.ExpiresAt != nil && !g.now().Before(*share.ExpiresAt) {
		return ErrExpired
	}
	if share.MaxViews != nil && share.ViewCount >= *share.MaxViews {
		return ErrViewLimitReached
	}
	return nil
}

// Check applies the availability checks and then the password, if one is set.
func (g *AccessGate) Check(share *database.Share, password string) error {
	if err := g.CheckAvailable(share); err != nil {
		return err
	}
	if share.PasswordHash == nil {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*share.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}
