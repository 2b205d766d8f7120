package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidActor   = errors.New("invalid actor")
	ErrInvalidComment = errors.New("invalid comment")
)
