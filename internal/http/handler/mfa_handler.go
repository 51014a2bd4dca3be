package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/http/middleware"
	"github.com/transferwave/identity-core/internal/http/response"
	"github.com/transferwave/identity-core/internal/service"
)

// MfaHandler exposes challenge lifecycle and method enrollment for the
// authenticated user.
type MfaHandler struct {
	mfa        *service.MfaCoordinator
	sessionTTL time.Duration
}

func NewMfaHandler(mfa *service.MfaCoordinator, sessionTTL time.Duration) *MfaHandler {
	return &MfaHandler{mfa: mfa, sessionTTL: sessionTTL}
}

type startChallengeRequest struct {
	MethodID    *string `json:"method_id"`
	ChallengeID *string `json:"challenge_id"`
}

func (h *MfaHandler) StartChallenge(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var req startChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed body", nil)
		return
	}
	session, err := h.mfa.Start(r.Context(), claims.Subject, claims.SessionID, req.MethodID, h.sessionTTL, req.ChallengeID)
	if err != nil {
		writeFault(w, r, err, "could not start challenge")
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"id":         session.ID,
		"status":     session.Status,
		"expires_at": session.ExpiresAt,
	})
}

type verifyChallengeRequest struct {
	Code string `json:"code"`
}

func (h *MfaHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed body", nil)
		return
	}
	ok, err := h.mfa.Verify(r.Context(), chi.URLParam(r, "mfa_session_id"), req.Code)
	if err != nil {
		writeFault(w, r, err, "could not verify challenge")
		return
	}
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "MFA_FAILED", "verification failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *MfaHandler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	if err := h.mfa.Cancel(chi.URLParam(r, "mfa_session_id")); err != nil {
		writeFault(w, r, err, "could not cancel challenge")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *MfaHandler) ListMethods(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	methods, err := h.mfa.ListMethods(claims.Subject)
	if err != nil {
		writeFault(w, r, err, "could not list methods")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"methods": methods})
}

type enrollTOTPRequest struct {
	Account string `json:"account"`
}

func (h *MfaHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var req enrollTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed body", nil)
		return
	}
	enrollment, err := h.mfa.EnrollTOTP(claims.Subject, req.Account)
	if err != nil {
		writeFault(w, r, err, "could not enroll totp")
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"method":        enrollment.Method,
		"secret":        enrollment.SecretBase32,
		"provision_uri": enrollment.ProvisionURI,
	})
}

type issueBackupCodesRequest struct {
	Count int `json:"count"`
}

func (h *MfaHandler) IssueBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var req issueBackupCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed body", nil)
		return
	}
	codes, err := h.mfa.IssueBackupCodes(claims.Subject, req.Count)
	if err != nil {
		writeFault(w, r, err, "could not issue backup codes")
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"codes": codes})
}

func writeFault(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", message, nil)
	case fault.KindInvalidState:
		response.Error(w, r, http.StatusConflict, "INVALID_STATE", message, nil)
	case fault.KindAuthFailure:
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
	case fault.KindTamperDetected:
		response.Error(w, r, http.StatusConflict, "TAMPER_DETECTED", message, nil)
	case fault.KindConflict:
		response.Error(w, r, http.StatusConflict, "CONFLICT", message, nil)
	case fault.KindTransient:
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", message, nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", message, nil)
	}
}
