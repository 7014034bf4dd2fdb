// Package identity holds the domain types for personhood-gated enrollment.
package identity

import (
	"encoding/json"
	"time"
)

// Session is a short-lived verification session. It is created when a client
// starts a verification flow and read back when the proof comes in. Sessions
// are never deleted on completion; only TTL eviction removes them.
type Session struct {
	RequestID string `json:"requestId"`
	Nonce     string `json:"nonce"`
	// Request is the opaque authorization request descriptor handed to the
	// wallet. Dev mode and iden3 mode produce different shapes, so it stays
	// raw JSON end to end.
	Request   json.RawMessage `json:"request"`
	CreatedAt time.Time       `json:"createdAt"`
}

// User is an enrolled registry record. Written exactly once per wallet;
// never updated or deleted by this service.
type User struct {
	ID             string    `json:"id"`
	WalletAddress  string    `json:"walletAddress"`
	DID            string    `json:"did"`
	CredentialHash string    `json:"credentialHash"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
}

// NewUser carries the fields of a user insert. The registry assigns ID and
// CreatedAt.
type NewUser struct {
	WalletAddress  string
	DID            string
	CredentialHash string
}
