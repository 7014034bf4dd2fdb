package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"heirloom/internal/audit"
	"heirloom/internal/identity/registry"
	"heirloom/internal/identity/session"
	"heirloom/internal/identity/verifier"
	"heirloom/internal/platform/metrics"
	dErrors "heirloom/pkg/domain-errors"
)

type recordingLedger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *recordingLedger) Notify(_ context.Context, walletAddress string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, walletAddress)
	return l.err
}

type stubVerifier struct {
	result verifier.Result
	err    error
}

func (v *stubVerifier) BuildRequest(_ context.Context, _, nonce, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"nonce":"` + nonce + `"}`), nil
}

func (v *stubVerifier) Verify(context.Context, verifier.VerifyInput) (verifier.Result, error) {
	return v.result, v.err
}

type ServiceSuite struct {
	suite.Suite
	sessions   *session.InMemory
	registry   *registry.InMemory
	ledger     *recordingLedger
	auditStore *audit.InMemory
	metrics    *metrics.Metrics
	svc        *Service
}

func (s *ServiceSuite) SetupTest() {
	s.sessions = session.NewInMemory(10 * time.Minute)
	s.registry = registry.NewInMemory()
	s.ledger = &recordingLedger{}
	s.auditStore = audit.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())

	logger := slog.New(slog.DiscardHandler)
	s.svc = NewService(
		s.sessions,
		verifier.NewPermissive("http://localhost:3001/verify"),
		s.registry,
		s.ledger,
		audit.NewPublisher(s.auditStore, logger),
		s.metrics,
		logger,
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) auditActions() []audit.Action {
	events, err := s.auditStore.ListAll(context.Background())
	s.Require().NoError(err)
	actions := make([]audit.Action, 0, len(events))
	for _, event := range events {
		actions = append(actions, event.Action)
	}
	return actions
}

func proofOf(raw string) verifier.ProofPayload {
	return verifier.NewProofPayload(json.RawMessage(raw))
}

func (s *ServiceSuite) enrollInput() EnrollInput {
	return EnrollInput{
		RequestID:     "req-1",
		WalletAddress: "0xAbC0000000000000000000000000000000000001",
		NullifierHash: "nullifier-1",
		Proof:         proofOf(`"jwz-token"`),
	}
}

func (s *ServiceSuite) TestStartVerification() {
	result, err := s.svc.StartVerification(context.Background(), "0xabc")
	s.Require().NoError(err)
	s.NotEmpty(result.RequestID)

	var request struct {
		Nonce string `json:"nonce"`
	}
	s.Require().NoError(json.Unmarshal(result.Request, &request))
	s.NotEmpty(request.Nonce)

	stored, err := s.sessions.FindByID(context.Background(), result.RequestID)
	s.Require().NoError(err)
	s.Equal(request.Nonce, stored.Nonce)
	s.JSONEq(string(result.Request), string(stored.Request))

	s.Contains(s.auditActions(), audit.ActionVerificationStarted)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.SessionsStarted))
}

func (s *ServiceSuite) TestEnroll() {
	user, err := s.svc.Enroll(context.Background(), s.enrollInput())
	s.Require().NoError(err)

	s.NotEmpty(user.ID)
	s.Equal(verifier.DevDID, user.DID)
	s.Equal(proofOf(`"jwz-token"`).Hash(), user.CredentialHash)
	s.Equal(1, s.registry.UserCount())
	s.Equal([]string{"0xAbC0000000000000000000000000000000000001"}, s.ledger.calls)
	s.Contains(s.auditActions(), audit.ActionUserEnrolled)
}

func (s *ServiceSuite) TestEnrollMissingFields() {
	base := s.enrollInput()

	cases := map[string]func(in *EnrollInput){
		"request id":     func(in *EnrollInput) { in.RequestID = "" },
		"wallet address": func(in *EnrollInput) { in.WalletAddress = "" },
		"nullifier hash": func(in *EnrollInput) { in.NullifierHash = "" },
		"proof":          func(in *EnrollInput) { in.Proof = verifier.ProofPayload{} },
		"null proof":     func(in *EnrollInput) { in.Proof = proofOf(`null`) },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			in := base
			mutate(&in)

			_, err := s.svc.Enroll(context.Background(), in)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))

			var de *dErrors.Error
			s.Require().ErrorAs(err, &de)
			s.Equal("requestId, walletAddress, nullifierHash, and proof are required", de.Message)

			exists, checkErr := s.registry.NullifierExists(context.Background(), base.NullifierHash)
			s.Require().NoError(checkErr)
			s.False(exists)
			s.Zero(s.registry.UserCount())
			s.Empty(s.ledger.calls)
		})
	}
}

func (s *ServiceSuite) TestEnrollReplayRejected() {
	_, err := s.svc.Enroll(context.Background(), s.enrollInput())
	s.Require().NoError(err)

	replay := s.enrollInput()
	replay.WalletAddress = "0xAbC0000000000000000000000000000000000002"
	replay.DID = "did:privado:other"

	_, err = s.svc.Enroll(context.Background(), replay)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	var de *dErrors.Error
	s.Require().ErrorAs(err, &de)
	s.Equal("identity already used", de.Message)

	s.Equal(1, s.registry.UserCount())
	s.Contains(s.auditActions(), audit.ActionEnrollmentReplayed)
}

func (s *ServiceSuite) TestEnrollWalletConflict() {
	_, err := s.svc.Enroll(context.Background(), s.enrollInput())
	s.Require().NoError(err)

	second := s.enrollInput()
	second.NullifierHash = "nullifier-2"
	second.Proof = proofOf(`"another-token"`)

	_, err = s.svc.Enroll(context.Background(), second)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	var de *dErrors.Error
	s.Require().ErrorAs(err, &de)
	s.Equal("wallet or identity already used", de.Message)

	s.Equal(1, s.registry.UserCount())
	s.Contains(s.auditActions(), audit.ActionEnrollmentConflict)
}

func (s *ServiceSuite) TestEnrollLedgerFailurePropagates() {
	notifyErr := errors.New("transaction reverted")
	s.ledger.err = notifyErr

	_, err := s.svc.Enroll(context.Background(), s.enrollInput())
	s.Require().ErrorIs(err, notifyErr)

	// The user row stays committed; the failure only blocks allowlisting.
	s.Equal(1, s.registry.UserCount())
	s.Contains(s.auditActions(), audit.ActionEnrollmentUnnotified)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Enrollments.WithLabelValues(metrics.OutcomeUnnotified)))
}

func (s *ServiceSuite) TestEnrollUnresolvedIdentityRejected() {
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(
		s.sessions,
		&stubVerifier{},
		s.registry,
		s.ledger,
		audit.NewPublisher(s.auditStore, logger),
		s.metrics,
		logger,
	)

	_, err := svc.Enroll(context.Background(), s.enrollInput())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	var de *dErrors.Error
	s.Require().ErrorAs(err, &de)
	s.Equal("did and credentialHash are required", de.Message)
	s.Zero(s.registry.UserCount())
}

func (s *ServiceSuite) TestEnrollVerifierFailureHasNoSideEffects() {
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(
		s.sessions,
		&stubVerifier{err: dErrors.New(dErrors.CodeUnauthorized, "verification failed")},
		s.registry,
		s.ledger,
		audit.NewPublisher(s.auditStore, logger),
		s.metrics,
		logger,
	)

	_, err := svc.Enroll(context.Background(), s.enrollInput())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	exists, checkErr := s.registry.NullifierExists(context.Background(), "nullifier-1")
	s.Require().NoError(checkErr)
	s.False(exists)
	s.Zero(s.registry.UserCount())
	s.Empty(s.ledger.calls)
}

func (s *ServiceSuite) TestConcurrentEnrollSameNullifierOneWinner() {
	const attempts = 16

	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := s.enrollInput()
			in.WalletAddress = fmt.Sprintf("0x%040x", i+1)
			in.DID = fmt.Sprintf("did:privado:racer-%d", i)
			_, err := s.svc.Enroll(context.Background(), in)
			results[i] = err
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "losers must see a conflict, got: %v", err)
	}
	s.Equal(1, succeeded)
	s.Equal(1, s.registry.UserCount())
}
