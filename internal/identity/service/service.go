// Package service orchestrates personhood enrollment: proof verification,
// replay prevention through nullifiers, registry writes, and ledger
// allowlisting.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"heirloom/internal/audit"
	"heirloom/internal/identity"
	"heirloom/internal/identity/ledger"
	"heirloom/internal/identity/registry"
	"heirloom/internal/identity/session"
	"heirloom/internal/identity/verifier"
	"heirloom/internal/platform/metrics"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/sentinel"
)

// StartResult is the outcome of opening a verification session.
type StartResult struct {
	RequestID string          `json:"requestId"`
	Request   json.RawMessage `json:"request"`
}

// EnrollInput carries a proof submission. DID and CredentialHash are
// optional hints; the verifier result wins when it resolves them.
type EnrollInput struct {
	RequestID      string
	WalletAddress  string
	NullifierHash  string
	Proof          verifier.ProofPayload
	DID            string
	CredentialHash string
}

// Service wires the verification flow end to end. It owns identifier
// creation and error translation; stores and clients stay transport-level.
type Service struct {
	sessions session.Store
	verifier verifier.Verifier
	registry registry.Store
	ledger   ledger.Notifier
	audit    *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewService(
	sessions session.Store,
	v verifier.Verifier,
	reg registry.Store,
	notifier ledger.Notifier,
	publisher *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		verifier: v,
		registry: reg,
		ledger:   notifier,
		audit:    publisher,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("heirloom/internal/identity/service"),
	}
}

// StartVerification creates a session and returns the request descriptor the
// wallet needs to produce a proof. Saving the session may evict expired ones
// as a side effect.
func (s *Service) StartVerification(ctx context.Context, walletAddress string) (StartResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.StartVerification")
	defer span.End()

	requestID := uuid.NewString()
	nonce := uuid.NewString()

	request, err := s.verifier.BuildRequest(ctx, requestID, nonce, walletAddress)
	if err != nil {
		span.RecordError(err)
		return StartResult{}, err
	}

	sess := identity.Session{
		RequestID: requestID,
		Nonce:     nonce,
		Request:   request,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		span.RecordError(err)
		return StartResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "save verification session")
	}

	s.metrics.SessionsStarted.Inc()
	s.audit.Emit(ctx, audit.Event{
		Action:        audit.ActionVerificationStarted,
		RequestID:     requestID,
		WalletAddress: walletAddress,
	})
	s.logger.InfoContext(ctx, "verification session started", "request_id", requestID)

	return StartResult{RequestID: requestID, Request: request}, nil
}

// Enroll verifies a proof and records the enrollment. The nullifier insert is
// the replay commit point; it is not rolled back when a later step fails. A
// ledger notification failure surfaces to the caller even though the user row
// is already committed.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (identity.User, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Enroll")
	defer span.End()

	user, err := s.enroll(ctx, in)
	if err != nil {
		span.RecordError(err)
	}
	return user, err
}

func (s *Service) enroll(ctx context.Context, in EnrollInput) (identity.User, error) {
	if in.RequestID == "" || in.WalletAddress == "" || in.NullifierHash == "" || in.Proof.IsZero() {
		s.metrics.IncEnrollment(metrics.OutcomeRejected)
		return identity.User{}, dErrors.New(dErrors.CodeValidation,
			"requestId, walletAddress, nullifierHash, and proof are required")
	}

	result, err := s.verifier.Verify(ctx, verifier.VerifyInput{
		RequestID:      in.RequestID,
		Proof:          in.Proof,
		DID:            in.DID,
		CredentialHash: in.CredentialHash,
	})
	if err != nil {
		s.metrics.IncEnrollment(metrics.OutcomeRejected)
		return identity.User{}, err
	}

	did := result.DID
	if did == "" {
		did = in.DID
	}
	credentialHash := result.CredentialHash
	if credentialHash == "" {
		credentialHash = in.CredentialHash
	}
	if did == "" || credentialHash == "" {
		s.metrics.IncEnrollment(metrics.OutcomeRejected)
		return identity.User{}, dErrors.New(dErrors.CodeValidation, "did and credentialHash are required")
	}

	exists, err := s.registry.NullifierExists(ctx, in.NullifierHash)
	if err != nil {
		s.metrics.IncEnrollment(metrics.OutcomeFailed)
		return identity.User{}, s.translateRegistry(err, "check nullifier")
	}
	if exists {
		s.metrics.IncEnrollment(metrics.OutcomeReplayed)
		s.audit.Emit(ctx, audit.Event{
			Action:        audit.ActionEnrollmentReplayed,
			RequestID:     in.RequestID,
			WalletAddress: in.WalletAddress,
		})
		return identity.User{}, dErrors.New(dErrors.CodeConflict, "identity already used")
	}

	// Registry uniqueness is the true arbiter; a racing duplicate surfaces
	// here as a structured conflict.
	if err := s.registry.InsertNullifier(ctx, in.NullifierHash); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncEnrollment(metrics.OutcomeReplayed)
			s.audit.Emit(ctx, audit.Event{
				Action:        audit.ActionEnrollmentReplayed,
				RequestID:     in.RequestID,
				WalletAddress: in.WalletAddress,
			})
			return identity.User{}, dErrors.Wrap(err, dErrors.CodeConflict, "identity already used")
		}
		s.metrics.IncEnrollment(metrics.OutcomeFailed)
		return identity.User{}, s.translateRegistry(err, "insert nullifier")
	}

	user, err := s.registry.InsertUser(ctx, identity.NewUser{
		WalletAddress:  in.WalletAddress,
		DID:            did,
		CredentialHash: credentialHash,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncEnrollment(metrics.OutcomeConflict)
			s.audit.Emit(ctx, audit.Event{
				Action:        audit.ActionEnrollmentConflict,
				RequestID:     in.RequestID,
				WalletAddress: in.WalletAddress,
				DID:           did,
			})
			return identity.User{}, dErrors.Wrap(err, dErrors.CodeConflict, "wallet or identity already used")
		}
		s.metrics.IncEnrollment(metrics.OutcomeFailed)
		return identity.User{}, s.translateRegistry(err, "insert user")
	}

	if err := s.ledger.Notify(ctx, in.WalletAddress); err != nil {
		s.metrics.IncEnrollment(metrics.OutcomeUnnotified)
		s.audit.Emit(ctx, audit.Event{
			Action:        audit.ActionEnrollmentUnnotified,
			RequestID:     in.RequestID,
			WalletAddress: in.WalletAddress,
			DID:           did,
			Reason:        err.Error(),
		})
		s.logger.ErrorContext(ctx, "ledger notification failed after enrollment",
			"wallet_address", in.WalletAddress,
			"user_id", user.ID,
			"error", err,
		)
		return identity.User{}, err
	}

	s.metrics.IncEnrollment(metrics.OutcomeEnrolled)
	s.audit.Emit(ctx, audit.Event{
		Action:        audit.ActionUserEnrolled,
		RequestID:     in.RequestID,
		WalletAddress: in.WalletAddress,
		DID:           did,
	})
	s.logger.InfoContext(ctx, "user enrolled", "wallet_address", in.WalletAddress, "user_id", user.ID)

	return user, nil
}

func (s *Service) translateRegistry(err error, op string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity registry unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, op)
}
