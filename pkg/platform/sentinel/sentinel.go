package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and collaborator clients
// return these (optionally wrapped) so services can translate them into coded
// domain errors without inspecting message text.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record or verification session does not exist
// - ErrConflict: a uniqueness constraint rejected the write (duplicate
//   nullifier, wallet address, or DID)
// - ErrExpired: session outlived its TTL
// - ErrUnavailable: collaborator transport failure not attributable to a
//   conflict
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExpired     = errors.New("expired")
	ErrUnavailable = errors.New("unavailable")
)
