package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"biometric-key-service/internal/middleware"
)

// NewRouter はルーターを生成する。sh が nil ならセンサー操作のルートは登録しない。
func NewRouter(h *AuthHandler, sh *SensorHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// ルート定義
	r.Get("/v1/support", h.CheckSupport)
	r.Route("/v1/keys/{key_name}", func(r chi.Router) {
		r.Post("/enroll", h.Enroll)
		r.Post("/verify", h.Verify)
	})
	r.Route("/v1/authentications", func(r chi.Router) {
		r.Delete("/current", h.CancelAuthentication)
		r.Get("/{request_id}", h.GetAuthentication)
	})

	if sh != nil {
		r.Route("/v1/sensor", func(r chi.Router) {
			r.Get("/templates", sh.ListTemplates)
			r.Post("/templates", sh.EnrollTemplate)
			r.Delete("/templates/{template_id}", sh.RemoveTemplate)
			r.Post("/touch", sh.Touch)
		})
	}

	r.Handle("/metrics", promhttp.Handler())

	return r
}
