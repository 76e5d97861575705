package service

import "errors"

// Common service errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrStorage      = errors.New("storage failure")
)

// Matchmaking specific errors
var (
	ErrMalformedOrigin = errors.New("malformed origin")
	ErrDomainBusy      = errors.New("matchmaking domain busy")
)
