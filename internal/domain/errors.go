package domain

import "errors"

var (
	// ErrInvalidURL is returned when a URL cannot be tracked.
	ErrInvalidURL = errors.New("invalid product url")
	// ErrInvalidInterval is returned for an interval outside AllowedIntervals.
	ErrInvalidInterval = errors.New("invalid update interval")
	// ErrLimitExceeded is returned when tracking one more item would exceed the configured maximum.
	ErrLimitExceeded = errors.New("tracked product limit reached")
	// ErrNotTracked is returned for operations on unknown item ids.
	ErrNotTracked = errors.New("product is not tracked")
	// ErrOffline is returned by user operations attempted without connectivity.
	ErrOffline = errors.New("offline")
)
