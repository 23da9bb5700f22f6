package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrJobTerminal     = errors.New("job already terminal")
	ErrProviderFailure = errors.New("provider failure")
	ErrInvalidImage    = errors.New("invalid image")
	ErrEmptyCaption    = errors.New("empty caption")
)
