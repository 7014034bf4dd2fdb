package verifier

import (
	"context"
	"encoding/json"
	"fmt"
)

// DevDID is the subject identity returned by the permissive verifier when the
// caller supplies none.
const DevDID = "did:privado:dev"

// Permissive accepts any proof payload unconditionally. It never touches the
// session store and exists so the enrollment flow can be exercised without
// circuits, chain access, or a wallet. Never enable in production.
type Permissive struct {
	CallbackURL string
}

// NewPermissive constructs the dev verifier.
func NewPermissive(callbackURL string) *Permissive {
	return &Permissive{CallbackURL: callbackURL}
}

type devRequest struct {
	Nonce         string `json:"nonce"`
	CallbackURL   string `json:"callbackUrl"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

func (p *Permissive) BuildRequest(_ context.Context, _, nonce, walletAddress string) (json.RawMessage, error) {
	raw, err := json.Marshal(devRequest{
		Nonce:         nonce,
		CallbackURL:   p.CallbackURL,
		WalletAddress: walletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal dev request: %w", err)
	}
	return raw, nil
}

// Verify resolves the subject from caller hints, defaulting the DID to DevDID
// and the credential hash to a content hash of the proof. Identical payloads
// yield identical hashes.
func (p *Permissive) Verify(_ context.Context, in VerifyInput) (Result, error) {
	res := Result{DID: in.DID, CredentialHash: in.CredentialHash}
	if res.DID == "" {
		res.DID = DevDID
	}
	if res.CredentialHash == "" {
		res.CredentialHash = in.Proof.Hash()
	}
	return res, nil
}
