// Package handler はHTTPハンドラを提供する。
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"biometric-key-service/internal/domain"
	"biometric-key-service/internal/middleware"
	"biometric-key-service/internal/usecase"
	"biometric-key-service/pkg/httputil"
)

// maxWait は結果待ちの上限。
const maxWait = 30 * time.Second

// AuthHandler は生体認証付き鍵の登録・照合のHTTPハンドラを提供する。
type AuthHandler struct {
	service  *usecase.AuthService
	tracker  *Tracker
	identity []byte
}

// NewAuthHandler は新しいAuthHandlerを生成する。
// identity はペイロードが省略された時に暗号化・照合する既定値。
func NewAuthHandler(service *usecase.AuthService, tracker *Tracker, identity string) *AuthHandler {
	return &AuthHandler{
		service:  service,
		tracker:  tracker,
		identity: []byte(identity),
	}
}

// SupportResponse はサポート状況のレスポンス形式。
type SupportResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// EnrollRequest は登録リクエストの形式。
type EnrollRequest struct {
	Payload *string `json:"payload"`
}

// VerifyRequest は照合リクエストの形式。
type VerifyRequest struct {
	Ciphertext string  `json:"ciphertext"`
	IV         string  `json:"iv"`
	Expected   *string `json:"expected"`
}

// SubmittedResponse は認証要求を受け付けた時のレスポンス形式。
type SubmittedResponse struct {
	RequestID string `json:"request_id"`
}

// OutcomeResponse は認証結果のレスポンス形式。
type OutcomeResponse struct {
	Kind          string `json:"kind"`
	ResultPayload string `json:"result_payload,omitempty"`
	IV            string `json:"iv,omitempty"`
	Message       string `json:"message,omitempty"`
	Terminal      bool   `json:"terminal"`
}

// AuthenticationResponse は認証要求の状態のレスポンス形式。
type AuthenticationResponse struct {
	RequestID string            `json:"request_id"`
	KeyName   string            `json:"key_name"`
	Purpose   string            `json:"purpose"`
	State     string            `json:"state"`
	Done      bool              `json:"done"`
	Outcomes  []OutcomeResponse `json:"outcomes"`
}

// CheckSupport は端末の生体認証サポート状況を返す。
func (h *AuthHandler) CheckSupport(w http.ResponseWriter, r *http.Request) {
	status := h.service.CheckSupport(r.Context())
	middleware.WriteAuditLog(r.Context(), middleware.AuditCheckSupport, "", "", string(status))
	httputil.JSON(w, http.StatusOK, SupportResponse{
		Status: string(status),
		State:  string(h.service.State()),
	})
}

// Enroll はペイロードを暗号化する認証要求を提出する。
func (h *AuthHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	keyName := chi.URLParam(r, "key_name")
	if err := domain.ValidateKeyName(keyName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_KEY_NAME", "invalid key name format")
		return
	}

	var req EnrollRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	payload := h.identity
	if req.Payload != nil {
		payload = []byte(*req.Payload)
	}

	p, err := h.service.Enroll(r.Context(), keyName, payload)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), middleware.AuditEnroll, keyName, domain.PurposeApply.String(), "FAILED")
		writeServiceError(w, err)
		return
	}

	h.tracker.Track(r.Context(), p)
	middleware.WriteAuditLog(r.Context(), middleware.AuditEnroll, keyName, domain.PurposeApply.String(), "SUBMITTED")
	httputil.JSON(w, http.StatusAccepted, SubmittedResponse{RequestID: p.ID()})
}

// Verify は保存済みの暗号文を復号して照合する認証要求を提出する。
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	keyName := chi.URLParam(r, "key_name")
	if err := domain.ValidateKeyName(keyName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_KEY_NAME", "invalid key name format")
		return
	}

	var req VerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if req.Ciphertext == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "ciphertext is required")
		return
	}
	expected := h.identity
	if req.Expected != nil {
		expected = []byte(*req.Expected)
	}

	p, err := h.service.Verify(r.Context(), keyName, req.Ciphertext, req.IV, expected)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), middleware.AuditVerify, keyName, domain.PurposeVerify.String(), "FAILED")
		writeServiceError(w, err)
		return
	}

	h.tracker.Track(r.Context(), p)
	middleware.WriteAuditLog(r.Context(), middleware.AuditVerify, keyName, domain.PurposeVerify.String(), "SUBMITTED")
	httputil.JSON(w, http.StatusAccepted, SubmittedResponse{RequestID: p.ID()})
}

// GetAuthentication は認証要求の状態と届いた結果を返す。
// wait クエリを指定すると要求が終了するまで最大その時間待つ。
func (h *AuthHandler) GetAuthentication(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	var wait time.Duration
	if s := r.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			httputil.Error(w, http.StatusBadRequest, "INVALID_WAIT", "wait must be a non-negative duration")
			return
		}
		wait = min(d, maxWait)
	}

	var snap RequestSnapshot
	var err error
	if wait > 0 {
		snap, err = h.tracker.Wait(r.Context(), requestID, wait)
	} else {
		snap, err = h.tracker.Get(requestID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			httputil.Error(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "authentication request not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	outcomes := make([]OutcomeResponse, len(snap.Outcomes))
	for i, o := range snap.Outcomes {
		outcomes[i] = OutcomeResponse{
			Kind:          string(o.Kind),
			ResultPayload: o.ResultPayload,
			IV:            o.IVBase64,
			Message:       o.Message,
			Terminal:      o.Terminal,
		}
	}
	httputil.JSON(w, http.StatusOK, AuthenticationResponse{
		RequestID: snap.ID,
		KeyName:   snap.KeyName,
		Purpose:   snap.Purpose.String(),
		State:     string(snap.State),
		Done:      snap.Done,
		Outcomes:  outcomes,
	})
}

// CancelAuthentication は進行中の認証要求をキャンセルする。
func (h *AuthHandler) CancelAuthentication(w http.ResponseWriter, r *http.Request) {
	h.service.Cancel(r.Context())
	middleware.WriteAuditLog(r.Context(), middleware.AuditCancel, "", "", "SUCCESS")
	w.WriteHeader(http.StatusAccepted)
}

// writeServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidKeyName):
		httputil.Error(w, http.StatusBadRequest, "INVALID_KEY_NAME", "invalid key name format")
	case errors.Is(err, domain.ErrIVRequired):
		httputil.Error(w, http.StatusBadRequest, "IV_REQUIRED", "iv is required for verification")
	case errors.Is(err, domain.ErrCryptoFailure):
		httputil.Error(w, http.StatusBadRequest, "INVALID_CIPHERTEXT", "ciphertext or iv is malformed")
	case errors.Is(err, domain.ErrKeyNotFound):
		httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
	case errors.Is(err, domain.ErrKeyInvalidated):
		httputil.Error(w, http.StatusGone, "KEY_INVALIDATED", "key was invalidated by a fingerprint enrollment change, enroll again")
	case errors.Is(err, domain.ErrAuthenticationInProgress):
		httputil.Error(w, http.StatusConflict, "AUTHENTICATION_IN_PROGRESS", "another authentication is in progress")
	case errors.Is(err, domain.ErrPermissionDenied):
		httputil.Error(w, http.StatusForbidden, "PERMISSION_DENIED", "biometric permission denied")
	case errors.Is(err, domain.ErrBiometricUnavailable):
		httputil.Error(w, http.StatusPreconditionFailed, "BIOMETRIC_UNAVAILABLE", "no fingerprints enrolled")
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		httputil.Error(w, http.StatusNotImplemented, "UNSUPPORTED_PLATFORM", "biometric key protection is not supported")
	case errors.Is(err, domain.ErrKeyGenerationFailed):
		httputil.Error(w, http.StatusInternalServerError, "KEY_GENERATION_FAILED", "key generation failed")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
