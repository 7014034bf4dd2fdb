package verifier

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	dErrors "heirloom/pkg/domain-errors"
)

// ProofPayload is the tagged union of accepted proof submissions: either a
// bare JWZ token string, or an object carrying the token under one of several
// conventional keys. Anything else is rejected at extraction time, not at
// decode time, so the orchestrator can report missing-field errors first.
type ProofPayload struct {
	raw json.RawMessage
}

// NewProofPayload wraps raw JSON as a proof payload. Test helper and handler
// decode target.
func NewProofPayload(raw json.RawMessage) ProofPayload {
	return ProofPayload{raw: bytes.TrimSpace(raw)}
}

func (p *ProofPayload) UnmarshalJSON(data []byte) error {
	p.raw = bytes.TrimSpace(data)
	return nil
}

func (p ProofPayload) MarshalJSON() ([]byte, error) {
	if len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.raw, nil
}

// IsZero reports whether no proof was submitted. A JSON null counts as absent.
func (p ProofPayload) IsZero() bool {
	return len(p.raw) == 0 || bytes.Equal(p.raw, []byte("null"))
}

// tokenKeys is the accepted key precedence for object-shaped payloads.
var tokenKeys = [...]string{"token", "jwz", "jwt", "proof"}

// Token extracts the proof token. A string payload is the token itself; an
// object payload yields the first present string among token, jwz, jwt,
// proof, in that order.
func (p ProofPayload) Token() (string, error) {
	if p.IsZero() {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid proof format; expected JWZ string")
	}

	var s string
	if err := json.Unmarshal(p.raw, &s); err == nil {
		return s, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p.raw, &obj); err == nil {
		for _, key := range tokenKeys {
			field, ok := obj[key]
			if !ok {
				continue
			}
			var candidate string
			if err := json.Unmarshal(field, &candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", dErrors.New(dErrors.CodeBadRequest, "invalid proof format; expected JWZ string")
}

// Hash returns the deterministic sha256 hex digest of the payload, used as
// the fallback credential hash. String payloads hash their decoded value so
// the digest matches hashing the extracted token.
func (p ProofPayload) Hash() string {
	var s string
	if err := json.Unmarshal(p.raw, &s); err == nil {
		return hashString(s)
	}
	return hashString(string(p.raw))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
