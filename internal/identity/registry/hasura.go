package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"heirloom/internal/identity"
	"heirloom/pkg/platform/sentinel"
)

const constraintViolation = "constraint-violation"

// Hasura talks to the registry through the Hasura GraphQL admin endpoint.
// Uniqueness violations come back as GraphQL errors tagged with a structured
// extensions code, which is mapped to sentinel.ErrConflict; everything else
// is a transport failure.
type Hasura struct {
	endpoint    string
	adminSecret string
	client      *http.Client
}

// NewHasura constructs the client. Endpoint and admin secret are required.
func NewHasura(endpoint, adminSecret string) (*Hasura, error) {
	if endpoint == "" || adminSecret == "" {
		return nil, errors.New("hasura endpoint or admin secret not configured")
	}
	return &Hasura{
		endpoint:    endpoint,
		adminSecret: adminSecret,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// request posts a GraphQL operation and decodes the data payload into out.
// A response with neither data nor errors is itself an error.
func (h *Hasura) request(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-hasura-admin-secret", h.adminSecret)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("hasura request: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var decoded graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode hasura response: %w: %w", sentinel.ErrUnavailable, err)
	}

	if len(decoded.Errors) > 0 {
		for _, gqlErr := range decoded.Errors {
			if gqlErr.Extensions.Code == constraintViolation {
				return fmt.Errorf("hasura: %s: %w", gqlErr.Message, sentinel.ErrConflict)
			}
		}
		return fmt.Errorf("hasura: %s: %w", decoded.Errors[0].Message, sentinel.ErrUnavailable)
	}

	if decoded.Data == nil {
		return fmt.Errorf("hasura response missing data: %w", sentinel.ErrUnavailable)
	}

	if out != nil {
		if err := json.Unmarshal(decoded.Data, out); err != nil {
			return fmt.Errorf("decode hasura data: %w", err)
		}
	}
	return nil
}

const checkNullifierQuery = `query CheckNullifier($nullifier_hash: String!) {
  identity_nullifiers_by_pk(nullifier_hash: $nullifier_hash) {
    nullifier_hash
  }
}`

func (h *Hasura) NullifierExists(ctx context.Context, nullifierHash string) (bool, error) {
	var data struct {
		Nullifier *struct {
			NullifierHash string `json:"nullifier_hash"`
		} `json:"identity_nullifiers_by_pk"`
	}
	if err := h.request(ctx, checkNullifierQuery, map[string]any{"nullifier_hash": nullifierHash}, &data); err != nil {
		return false, err
	}
	return data.Nullifier != nil, nil
}

const insertNullifierMutation = `mutation InsertNullifier($nullifier_hash: String!, $created_at: timestamptz!) {
  insert_identity_nullifiers_one(object: { nullifier_hash: $nullifier_hash, created_at: $created_at }) {
    nullifier_hash
  }
}`

func (h *Hasura) InsertNullifier(ctx context.Context, nullifierHash string) error {
	return h.request(ctx, insertNullifierMutation, map[string]any{
		"nullifier_hash": nullifierHash,
		"created_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}, nil)
}

const insertUserMutation = `mutation InsertUser($wallet_address: String!, $did: String!, $credential_hash: String!, $created_at: timestamptz!) {
  insert_users_one(object: { wallet_address: $wallet_address, did: $did, credential_hash: $credential_hash, created_at: $created_at }) {
    id
    wallet_address
    did
    credential_hash
    created_at
  }
}`

func (h *Hasura) InsertUser(ctx context.Context, user identity.NewUser) (identity.User, error) {
	var data struct {
		User struct {
			ID             string    `json:"id"`
			WalletAddress  string    `json:"wallet_address"`
			DID            string    `json:"did"`
			CredentialHash string    `json:"credential_hash"`
			CreatedAt      time.Time `json:"created_at"`
		} `json:"insert_users_one"`
	}
	err := h.request(ctx, insertUserMutation, map[string]any{
		"wallet_address":  user.WalletAddress,
		"did":             user.DID,
		"credential_hash": user.CredentialHash,
		"created_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}, &data)
	if err != nil {
		return identity.User{}, err
	}
	return identity.User{
		ID:             data.User.ID,
		WalletAddress:  data.User.WalletAddress,
		DID:            data.User.DID,
		CredentialHash: data.User.CredentialHash,
		CreatedAt:      data.User.CreatedAt,
	}, nil
}
