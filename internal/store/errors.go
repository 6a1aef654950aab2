package store

import "errors"

var (
	ErrNotFound      = errors.New("post not found")
	ErrBadDimension  = errors.New("embedding has wrong dimension")
	ErrEmptyVertical = errors.New("vertical must not be empty")
)
