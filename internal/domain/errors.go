package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrBlockhashExpired  = errors.New("blockhash expired")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrInvalidPriceProof = errors.New("invalid price proof")
	ErrRateLimited       = errors.New("rate limited")
	ErrPointsPrecision   = errors.New("points finer than a hundredth of a percent")
)
