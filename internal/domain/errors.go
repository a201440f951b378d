package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNoPrice        = errors.New("no price available")
	ErrSellInFlight   = errors.New("sell already in flight")
	ErrSellCooldown   = errors.New("sell cooldown active")
	ErrSwapFailed     = errors.New("swap execution failed")
	ErrNoBalance      = errors.New("no token balance")
	ErrPositionClosed = errors.New("position closed")
	ErrLockHeld       = errors.New("lock already held")
	ErrEntryRejected  = errors.New("entry filters rejected token")
)
