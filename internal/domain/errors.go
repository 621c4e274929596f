package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrBatchActive     = errors.New("expansion batch already running")
	ErrProviderFailure = errors.New("provider failure")
)
