package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"heirloom/internal/identity"
	"heirloom/pkg/platform/sentinel"
)

// Postgres writes directly to the registry tables, bypassing the GraphQL
// layer. Unique-violation SQLSTATEs become sentinel.ErrConflict so the
// orchestrator never needs to parse error messages.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) NullifierExists(ctx context.Context, nullifierHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM identity_nullifiers WHERE nullifier_hash = $1)`,
		nullifierHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check nullifier: %w: %w", sentinel.ErrUnavailable, err)
	}
	return exists, nil
}

func (s *Postgres) InsertNullifier(ctx context.Context, nullifierHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_nullifiers (nullifier_hash, created_at) VALUES ($1, $2)`,
		nullifierHash, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nullifier exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert nullifier: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *Postgres) InsertUser(ctx context.Context, user identity.NewUser) (identity.User, error) {
	record := identity.User{
		ID:             uuid.NewString(),
		WalletAddress:  user.WalletAddress,
		DID:            user.DID,
		CredentialHash: user.CredentialHash,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, wallet_address, did, credential_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		record.ID, record.WalletAddress, record.DID, record.CredentialHash, time.Now().UTC(),
	).Scan(&record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.User{}, fmt.Errorf("wallet or identity exists: %w", sentinel.ErrConflict)
		}
		return identity.User{}, fmt.Errorf("insert user: %w: %w", sentinel.ErrUnavailable, err)
	}
	return record, nil
}

// isUniqueViolation checks for SQLSTATE 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
