// Package registry is the typed client for the external identity registry,
// which owns nullifier and user records and enforces their uniqueness
// constraints.
package registry

import (
	"context"

	"heirloom/internal/identity"
)

// Store reads and writes nullifier and user records. Implementations return
// sentinel.ErrConflict (wrapped) when a uniqueness constraint rejects a
// write, so callers can distinguish conflicts from transport failures without
// parsing error text. The registry's constraints, not this client, are the
// arbiter of uniqueness under concurrent inserts.
type Store interface {
	NullifierExists(ctx context.Context, nullifierHash string) (bool, error)
	InsertNullifier(ctx context.Context, nullifierHash string) error
	InsertUser(ctx context.Context, user identity.NewUser) (identity.User, error)
}
