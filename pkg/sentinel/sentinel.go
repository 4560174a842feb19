package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrReferenceInUse: support reference number unique constraint fired
// - ErrExpired: magic link has passed its expiration date
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domainerr directly.
var (
	ErrNotFound       = errors.New("not found")
	ErrReferenceInUse = errors.New("support reference number already in use")
	ErrExpired        = errors.New("expired")
	ErrUnavailable    = errors.New("unavailable")
)
