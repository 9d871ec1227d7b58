package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTerminalJob     = errors.New("job already terminal")
	ErrBatchExpired    = errors.New("batch expired")
	ErrEmptyBatch      = errors.New("batch has no primary items")
	ErrProviderFailure = errors.New("provider failure")
)
