package domain

import "errors"

var (
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidTenant    = errors.New("invalid tenant")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidTitle     = errors.New("invalid title")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidPriority  = errors.New("invalid priority")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidKeyPrefix = errors.New("invalid key prefix")
	ErrTooManyLabels    = errors.New("too many labels")
)
