package queue

import "errors"

// Input validation errors. State errors come from the store package.
var (
	ErrUnknownQueueType = errors.New("unknown queue type")
	ErrOperatorRequired = errors.New("operator is required")
	ErrWindowRequired   = errors.New("window label is required")
	ErrInvalidSettings  = errors.New("invalid settings")
)
