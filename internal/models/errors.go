package models

import "errors"

// Sentinel errors returned by services. Handlers map these onto HTTP
// statuses with errors.Is, so wrap them rather than replacing them.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDeadlinePassed = errors.New("deadline passed")
	ErrAlreadyRated   = errors.New("already rated")
)
