package core

import "errors"

var (
	ErrNameRequired     = errors.New("scene name is required")
	ErrUnknownModelType = errors.New("unknown model type")
)
