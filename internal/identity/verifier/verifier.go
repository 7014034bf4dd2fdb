// Package verifier validates submitted personhood proofs against stored
// verification sessions. Two interchangeable implementations exist: a
// permissive one for development and an iden3-backed one for production.
package verifier

import (
	"context"
	"encoding/json"
)

// VerifyInput carries a proof submission. DID and CredentialHash are caller
// hints used when the verifier cannot resolve them itself.
type VerifyInput struct {
	RequestID      string
	Proof          ProofPayload
	DID            string
	CredentialHash string
}

// Result is the verified subject identity.
type Result struct {
	DID            string
	CredentialHash string
}

// Verifier builds outbound authorization request descriptors and verifies
// submitted proofs.
type Verifier interface {
	// BuildRequest produces the opaque request descriptor stored in the
	// session and handed to the wallet.
	BuildRequest(ctx context.Context, requestID, nonce, walletAddress string) (json.RawMessage, error)
	Verify(ctx context.Context, in VerifyInput) (Result, error)
}
