package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"heirloom/internal/identity"
	"heirloom/pkg/platform/sentinel"
)

// InMemory implements Store with the same uniqueness semantics as the real
// registry: duplicate nullifiers, wallet addresses, or DIDs are rejected with
// sentinel.ErrConflict. Used in tests and local development without a
// registry deployment.
type InMemory struct {
	mu         sync.Mutex
	nullifiers map[string]time.Time
	users      map[string]identity.User // keyed by lowercased wallet address
	dids       map[string]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		nullifiers: make(map[string]time.Time),
		users:      make(map[string]identity.User),
		dids:       make(map[string]struct{}),
	}
}

func (s *InMemory) NullifierExists(_ context.Context, nullifierHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nullifiers[nullifierHash]
	return ok, nil
}

func (s *InMemory) InsertNullifier(_ context.Context, nullifierHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nullifiers[nullifierHash]; ok {
		return sentinel.ErrConflict
	}
	s.nullifiers[nullifierHash] = time.Now()
	return nil
}

func (s *InMemory) InsertUser(_ context.Context, user identity.NewUser) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.WalletAddress)
	if _, ok := s.users[key]; ok {
		return identity.User{}, sentinel.ErrConflict
	}
	if _, ok := s.dids[user.DID]; ok {
		return identity.User{}, sentinel.ErrConflict
	}

	record := identity.User{
		ID:             uuid.NewString(),
		WalletAddress:  user.WalletAddress,
		DID:            user.DID,
		CredentialHash: user.CredentialHash,
		CreatedAt:      time.Now(),
	}
	s.users[key] = record
	s.dids[user.DID] = struct{}{}
	return record, nil
}

// UserCount reports the number of enrolled users. Test helper.
func (s *InMemory) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
