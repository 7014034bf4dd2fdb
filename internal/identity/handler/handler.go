// Package handler exposes the enrollment flow over HTTP. Handlers decode,
// delegate, and encode; all business rules live in the service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"heirloom/internal/identity"
	"heirloom/internal/identity/service"
	"heirloom/internal/identity/verifier"
	"heirloom/internal/platform/metrics"
	"heirloom/internal/platform/middleware"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/httputil"
)

// Service defines the enrollment operations the handler needs.
type Service interface {
	StartVerification(ctx context.Context, walletAddress string) (service.StartResult, error)
	Enroll(ctx context.Context, in service.EnrollInput) (identity.User, error)
}

type Handler struct {
	logger  *slog.Logger
	service Service
	metrics *metrics.Metrics
}

func New(svc Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		service: svc,
		metrics: m,
	}
}

// Register mounts the enrollment routes with the shared middleware stack.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.Latency(h.metrics))
	router.Post("/start", h.handleStart)
	router.Post("/verify", h.handleVerify)
	router.Get("/health", h.handleHealth)

	r.Mount("/", router)
}

type startRequest struct {
	WalletAddress string `json:"walletAddress"`
}

// handleStart opens a verification session. The body is optional; a bare
// POST starts a session with no wallet hint.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "invalid start request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.service.StartVerification(ctx, req.WalletAddress)
	if err != nil {
		h.logError(ctx, "start verification failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

type verifyRequest struct {
	RequestID      string                `json:"requestId"`
	WalletAddress  string                `json:"walletAddress"`
	NullifierHash  string                `json:"nullifierHash"`
	Proof          verifier.ProofPayload `json:"proof"`
	DID            string                `json:"did"`
	CredentialHash string                `json:"credentialHash"`
}

type verifyResponse struct {
	OK   bool          `json:"ok"`
	User identity.User `json:"user"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid verify request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	user, err := h.service.Enroll(ctx, service.EnrollInput{
		RequestID:      req.RequestID,
		WalletAddress:  req.WalletAddress,
		NullifierHash:  req.NullifierHash,
		Proof:          req.Proof,
		DID:            req.DID,
		CredentialHash: req.CredentialHash,
	})
	if err != nil {
		h.logError(ctx, "enrollment failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{OK: true, User: user})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	}
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}
