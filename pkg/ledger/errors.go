package ledger

import "errors"

var (
	// ErrInvalidStake is returned when a stake is non-positive or exceeds
	// the current balance. Nothing is mutated when it is returned.
	ErrInvalidStake     = errors.New("invalid stake")
	ErrPositionNotFound = errors.New("position not found")
)
