package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
	ErrAlreadyExists         = errors.New("already exists")
)
