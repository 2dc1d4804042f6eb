package domain

import "errors"

var (
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition marks a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
