package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidCollection = errors.New("collection is not writable")
	ErrInvalidDocument   = errors.New("invalid document")
)
