package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"biometric-key-service/internal/sensor"
	"biometric-key-service/pkg/httputil"
)

// SensorHandler はシミュレートされた指紋センサーを操作するHTTPハンドラを提供する。
type SensorHandler struct {
	sensor *sensor.Simulated
}

// NewSensorHandler は新しいSensorHandlerを生成する。
func NewSensorHandler(s *sensor.Simulated) *SensorHandler {
	return &SensorHandler{sensor: s}
}

// TemplateRequest は指紋テンプレート登録リクエストの形式。
type TemplateRequest struct {
	Name string `json:"name"`
}

// TemplateResponse は指紋テンプレートのレスポンス形式。
type TemplateResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TemplateListResponse は指紋テンプレート一覧のレスポンス形式。
type TemplateListResponse struct {
	Templates []TemplateResponse `json:"templates"`
}

// TouchRequest はセンサー操作リクエストの形式。
// Action は "touch"（既定）、"help"、"fail" のいずれか。
type TouchRequest struct {
	Action     string `json:"action"`
	TemplateID string `json:"template_id"`
	Message    string `json:"message"`
}

// ListTemplates は登録済みの指紋テンプレートを返す。
func (h *SensorHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.sensor.Templates()
	resp := TemplateListResponse{Templates: make([]TemplateResponse, len(templates))}
	for i, tpl := range templates {
		resp.Templates[i] = TemplateResponse{ID: tpl.ID, Name: tpl.Name}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// EnrollTemplate は指紋テンプレートを登録する。登録済みの鍵はすべて無効化される。
func (h *SensorHandler) EnrollTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}

	tpl, err := h.sensor.EnrollTemplate(req.Name)
	if err != nil {
		writeSensorError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, TemplateResponse{ID: tpl.ID, Name: tpl.Name})
}

// RemoveTemplate は指紋テンプレートを削除する。登録済みの鍵はすべて無効化される。
func (h *SensorHandler) RemoveTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.sensor.RemoveTemplate(chi.URLParam(r, "template_id")); err != nil {
		writeSensorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Touch は進行中の読み取りにセンサー信号を送る。
func (h *SensorHandler) Touch(w http.ResponseWriter, r *http.Request) {
	var req TouchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	var err error
	switch req.Action {
	case "", "touch":
		err = h.sensor.Touch(req.TemplateID)
	case "help":
		err = h.sensor.Help(req.Message)
	case "fail":
		err = h.sensor.Fail(req.Message)
	default:
		httputil.Error(w, http.StatusBadRequest, "INVALID_ACTION", "action must be touch, help or fail")
		return
	}
	if err != nil {
		writeSensorError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeSensorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sensor.ErrNoHardware):
		httputil.Error(w, http.StatusServiceUnavailable, "NO_SENSOR", "no biometric sensor present")
	case errors.Is(err, sensor.ErrNoActiveSubmission):
		httputil.Error(w, http.StatusConflict, "NO_ACTIVE_AUTHENTICATION", "no authentication is waiting for the sensor")
	case errors.Is(err, sensor.ErrTemplateNotFound):
		httputil.Error(w, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "fingerprint template not found")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
