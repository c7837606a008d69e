package domain

import "errors"

var (
	ErrSourceNotFound         = errors.New("source not found")
	ErrUpstreamStatus         = errors.New("unexpected upstream status")
	ErrUpstreamTooLarge       = errors.New("upstream body too large")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
)
