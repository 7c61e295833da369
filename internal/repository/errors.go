package repository

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrEmailExists = errors.New("email already registered")
	ErrConflict    = errors.New("revision conflict")
)
