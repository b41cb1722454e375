package types

import "errors"

var (
	// ErrAllocation means a session directory could not be created
	ErrAllocation = errors.New("session allocation failed")
	// ErrNotFound means no session is known under the given id
	ErrNotFound = errors.New("session not found")
	// ErrPairingExhausted means every pairing-code attempt failed
	ErrPairingExhausted = errors.New("pairing attempts exhausted")
	// ErrIO wraps filesystem failures while persisting or archiving credentials
	ErrIO            = errors.New("i/o failure")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrInvalidID     = errors.New("invalid session id")
	ErrStopped       = errors.New("session stopped")
	ErrAlreadyPaired = errors.New("session already registered")
)
