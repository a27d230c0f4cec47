package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about stored rows, not validation failures:
// - ErrNotFound: entity does not exist in the store
// - ErrConflict: a uniqueness constraint fired at the store level
// - ErrExpired: donation or request past its expiry
// - ErrAlreadyUsed: a slot (supplier's contribution, active route) already taken
// - ErrInvalidState: row in wrong lifecycle state for the requested mutation
// - ErrLockTimeout: a row lock wait exceeded the store's timeout; retryable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrLockTimeout  = errors.New("lock wait timeout")
)
