package node

import "errors"

var (
	ErrNotInitialized = errors.New("node not initialized")
	ErrLineTooLong    = errors.New("input line exceeds limit")
)
