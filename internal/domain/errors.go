package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrTradePairNotFound = errors.New("trade pair not listed on exchange")
	ErrUnknownJobType    = errors.New("unknown job type")
	ErrInvalidJob        = errors.New("invalid job arguments")
	ErrCrossedBook       = errors.New("order book is crossed")
	ErrInsufficientDepth = errors.New("order book depth insufficient")
	ErrQueueStopped      = errors.New("job queue is not running")
)
