package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	auth "github.com/iden3/go-iden3-auth/v2"
	"github.com/iden3/go-iden3-auth/v2/loaders"
	"github.com/iden3/go-iden3-auth/v2/pubsignals"
	"github.com/iden3/go-iden3-auth/v2/state"
	"github.com/iden3/iden3comm/v2/protocol"

	"heirloom/internal/identity/session"
	"heirloom/internal/platform/config"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/sentinel"
)

// capability is the external verification capability: it checks a JWZ token
// against the original authorization request. *auth.Verifier satisfies it.
type capability interface {
	FullVerify(ctx context.Context, token string, request protocol.AuthorizationRequestMessage, opts ...pubsignals.VerifyOpt) (*protocol.AuthorizationResponseMessage, error)
}

// Iden3 verifies proofs through the iden3 authorization protocol. The
// underlying capability loads circuit verification keys and builds chain
// state resolvers, which is expensive, so it is constructed lazily exactly
// once; all concurrent first callers share the one result, success or
// failure.
type Iden3 struct {
	cfg      config.Privado
	sessions session.Store
	logger   *slog.Logger

	construct func() (capability, error)
	initOnce  sync.Once
	verifier  capability
	initErr   error
}

// Iden3Option configures the verifier.
type Iden3Option func(*Iden3)

// WithCapabilityConstructor overrides how the verification capability is
// built. Tests inject fakes here.
func WithCapabilityConstructor(fn func() (capability, error)) Iden3Option {
	return func(v *Iden3) {
		if fn != nil {
			v.construct = fn
		}
	}
}

// NewIden3 constructs the production verifier. Construction is cheap; the
// heavy lifting happens on first Verify.
func NewIden3(cfg config.Privado, sessions session.Store, logger *slog.Logger, opts ...Iden3Option) *Iden3 {
	v := &Iden3{cfg: cfg, sessions: sessions, logger: logger}
	v.construct = v.newCapability
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Iden3) newCapability() (capability, error) {
	resolvers := map[string]pubsignals.StateResolver{
		v.cfg.ResolverPrefix: state.ETHResolver{
			RPCUrl:          v.cfg.RPCURL,
			ContractAddress: common.HexToAddress(v.cfg.StateContract),
		},
	}
	return auth.NewVerifier(
		&loaders.FSKeyLoader{Dir: v.cfg.CircuitsDir},
		resolvers,
		auth.WithIPFSGateway(v.cfg.IPFSGatewayURL),
	)
}

// capabilityOnce performs the single-flight lazy construction.
func (v *Iden3) capabilityOnce() (capability, error) {
	v.initOnce.Do(func() {
		v.verifier, v.initErr = v.construct()
		if v.initErr != nil {
			v.logger.Error("iden3 verifier construction failed", "error", v.initErr)
		}
	})
	return v.verifier, v.initErr
}

// BuildRequest creates the iden3 authorization request descriptor: callback
// with a sessionId correlation parameter, configured scope, reason, and a
// wallet-specific message when an address is known.
func (v *Iden3) BuildRequest(_ context.Context, requestID, _, walletAddress string) (json.RawMessage, error) {
	if v.cfg.VerifierDID == "" || v.cfg.CallbackURL == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "verifier DID or callback URL not configured")
	}

	callback, err := url.Parse(v.cfg.CallbackURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid callback URL")
	}
	q := callback.Query()
	q.Set("sessionId", requestID)
	callback.RawQuery = q.Encode()

	request := auth.CreateAuthorizationRequest(v.cfg.RequestReason, v.cfg.VerifierDID, callback.String())

	scope, err := parseScope(v.cfg.RequestScopeJSON)
	if err != nil {
		return nil, err
	}
	if len(scope) > 0 {
		request.Body.Scope = append(request.Body.Scope, scope...)
	}

	request.Body.Reason = v.cfg.RequestReason
	if walletAddress != "" {
		request.Body.Message = fmt.Sprintf("Wallet verification for %s", walletAddress)
	}

	raw, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal authorization request: %w", err)
	}
	return raw, nil
}

// Verify checks the submitted proof against the stored session's original
// request descriptor.
func (v *Iden3) Verify(ctx context.Context, in VerifyInput) (Result, error) {
	if v.cfg.RPCURL == "" || v.cfg.ResolverPrefix == "" {
		return Result{}, dErrors.New(dErrors.CodeConfiguration, "verifier RPC configuration missing")
	}
	if v.cfg.StateContract == "" {
		return Result{}, dErrors.New(dErrors.CodeConfiguration, "state contract address missing")
	}

	token, err := in.Proof.Token()
	if err != nil {
		return Result{}, err
	}

	stored, err := v.sessions.FindByID(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Result{}, dErrors.New(dErrors.CodeBadRequest, "unknown or expired verification request")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "session lookup failed")
	}

	var request protocol.AuthorizationRequestMessage
	if err := json.Unmarshal(stored.Request, &request); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "stored request descriptor is not an authorization request")
	}

	verifier, err := v.capabilityOnce()
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeConfiguration, "verifier construction failed")
	}

	response, err := verifier.FullVerify(ctx, token, request,
		pubsignals.WithAcceptedStateTransitionDelay(v.cfg.AcceptedDelay))
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "proof verification failed")
	}

	// The protocol response carries the verified subject at the top level;
	// caller hints fill any gap.
	did := response.From
	if did == "" {
		did = in.DID
	}

	credentialHash := in.CredentialHash
	if credentialHash == "" {
		credentialHash = hashString(token)
	}

	return Result{DID: did, CredentialHash: credentialHash}, nil
}

// parseScope accepts either a single zero-knowledge proof request object or
// an array of them.
func parseScope(raw string) ([]protocol.ZeroKnowledgeProofRequest, error) {
	if raw == "" {
		return nil, nil
	}
	var list []protocol.ZeroKnowledgeProofRequest
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var one protocol.ZeroKnowledgeProofRequest
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		return []protocol.ZeroKnowledgeProofRequest{one}, nil
	}
	return nil, dErrors.New(dErrors.CodeConfiguration, "invalid request scope JSON")
}
