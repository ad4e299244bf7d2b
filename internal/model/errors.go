package model

import "errors"

// Failure classes shared by the cache, scheduler and conversation queue.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPoolExhausted       = errors.New("no content available")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrDestinationNotFound = errors.New("destination not found")
	ErrGenerationFailed    = errors.New("generation failed")
)
