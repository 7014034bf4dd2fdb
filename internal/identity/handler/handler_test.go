package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"heirloom/internal/audit"
	"heirloom/internal/identity/ledger"
	"heirloom/internal/identity/registry"
	"heirloom/internal/identity/service"
	"heirloom/internal/identity/session"
	"heirloom/internal/identity/verifier"
	"heirloom/internal/platform/metrics"
)

// EnrollmentHandlerSuite drives the full permissive flow through the router:
// real service, in-memory stores, no chain or registry deployment.
type EnrollmentHandlerSuite struct {
	suite.Suite
	router   chi.Router
	registry *registry.InMemory
}

func (s *EnrollmentHandlerSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New(prometheus.NewRegistry())
	s.registry = registry.NewInMemory()

	svc := service.NewService(
		session.NewInMemory(10*time.Minute),
		verifier.NewPermissive("http://localhost:3001/verify"),
		s.registry,
		ledger.Noop{Logger: logger},
		audit.NewPublisher(audit.NewInMemory(), logger),
		m,
		logger,
	)

	s.router = chi.NewRouter()
	New(svc, logger, m).Register(s.router)
}

func TestEnrollmentHandlerSuite(t *testing.T) {
	suite.Run(t, new(EnrollmentHandlerSuite))
}

func (s *EnrollmentHandlerSuite) postJSON(path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *EnrollmentHandlerSuite) decodeError(rec *httptest.ResponseRecorder) (code, description string) {
	var envelope struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error, envelope.ErrorDescription
}

func (s *EnrollmentHandlerSuite) startSession(walletAddress string) string {
	rec := s.postJSON("/start", map[string]string{"walletAddress": walletAddress})
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		RequestID string          `json:"requestId"`
		Request   json.RawMessage `json:"request"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Require().NotEmpty(resp.RequestID)
	s.Require().NotEmpty(resp.Request)
	return resp.RequestID
}

func (s *EnrollmentHandlerSuite) TestStartWithoutBody() {
	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		RequestID string `json:"requestId"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.NotEmpty(resp.RequestID)
}

func (s *EnrollmentHandlerSuite) TestStartRejectsMalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusBadRequest, rec.Code)
	code, _ := s.decodeError(rec)
	s.Equal("bad_request", code)
}

func (s *EnrollmentHandlerSuite) TestVerifyEnrollsUser() {
	requestID := s.startSession("0xabc")

	rec := s.postJSON("/verify", map[string]any{
		"requestId":     requestID,
		"walletAddress": "0xabc",
		"nullifierHash": "nullifier-1",
		"proof":         "jwz-token",
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		OK   bool `json:"ok"`
		User struct {
			ID             string `json:"id"`
			WalletAddress  string `json:"walletAddress"`
			DID            string `json:"did"`
			CredentialHash string `json:"credentialHash"`
		} `json:"user"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.True(resp.OK)
	s.NotEmpty(resp.User.ID)
	s.Equal("0xabc", resp.User.WalletAddress)
	s.Equal(verifier.DevDID, resp.User.DID)
	s.NotEmpty(resp.User.CredentialHash)
	s.Equal(1, s.registry.UserCount())
}

func (s *EnrollmentHandlerSuite) TestVerifyMissingFields() {
	rec := s.postJSON("/verify", map[string]any{
		"walletAddress": "0xabc",
		"proof":         "jwz-token",
	})

	s.Equal(http.StatusBadRequest, rec.Code)
	code, description := s.decodeError(rec)
	s.Equal("validation_error", code)
	s.Equal("requestId, walletAddress, nullifierHash, and proof are required", description)
	s.Zero(s.registry.UserCount())
}

func (s *EnrollmentHandlerSuite) TestVerifyReplayConflicts() {
	requestID := s.startSession("0xabc")
	payload := map[string]any{
		"requestId":     requestID,
		"walletAddress": "0xabc",
		"nullifierHash": "nullifier-1",
		"proof":         "jwz-token",
	}

	s.Require().Equal(http.StatusOK, s.postJSON("/verify", payload).Code)

	payload["walletAddress"] = "0xdef"
	payload["did"] = "did:privado:other"
	rec := s.postJSON("/verify", payload)

	s.Equal(http.StatusConflict, rec.Code)
	code, description := s.decodeError(rec)
	s.Equal("conflict", code)
	s.Equal("identity already used", description)
	s.Equal(1, s.registry.UserCount())
}

func (s *EnrollmentHandlerSuite) TestVerifyObjectProofShapes() {
	for _, key := range []string{"token", "jwz", "jwt", "proof"} {
		s.Run(key, func() {
			requestID := s.startSession("0x" + key)
			rec := s.postJSON("/verify", map[string]any{
				"requestId":     requestID,
				"walletAddress": "0x" + key,
				"nullifierHash": "nullifier-" + key,
				"proof":         map[string]string{key: "jwz-token-" + key},
				"did":           "did:privado:" + key,
			})
			s.Equal(http.StatusOK, rec.Code)
		})
	}
}

func (s *EnrollmentHandlerSuite) TestHealth() {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"ok":true}`, rec.Body.String())
}
