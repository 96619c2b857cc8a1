package service

import "errors"

// Sentinel errors for the service layer.
var (
	ErrNotFound         = errors.New("share not found")
	ErrExpired          = errors.New("share has expired")
	ErrViewLimitReached = errors.New("share view limit reached")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrForbidden        = errors.New("not allowed to modify this share")
	ErrSlugTaken        = errors.New("slug already in use")
	ErrQuotaExceeded    = errors.New("upload quota exceeded")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrInvalidInput     = errors.New("invalid input")
)

// InputError is a client input problem with a message safe to show the client.
// It matches ErrInvalidInput under errors.Is.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func inputError(field, msg string) error {
	return &InputError{Field: field, Msg: msg}
}
