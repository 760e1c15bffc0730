package models

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrThrottled         = errors.New("throttled")
	ErrExpired           = errors.New("expired")
	ErrAlreadyUsed       = errors.New("already used")
	ErrProviderTransient = errors.New("provider transient failure")
	ErrProviderRejected  = errors.New("provider rejected request")
	ErrInvalid           = errors.New("invalid")
)
