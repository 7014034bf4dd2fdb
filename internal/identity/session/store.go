// Package session stores short-lived verification sessions keyed by request ID.
package session

import (
	"context"

	"heirloom/internal/identity"
)

// Store persists verification sessions. Implementations must be safe for
// concurrent Save/FindByID; eviction of expired sessions happens as a side
// effect of Save, never on a background timer.
type Store interface {
	Save(ctx context.Context, s identity.Session) error
	// FindByID returns sentinel.ErrNotFound (wrapped) when the session is
	// absent or already evicted.
	FindByID(ctx context.Context, requestID string) (identity.Session, error)
}
