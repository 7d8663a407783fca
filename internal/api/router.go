package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Weightage/internal/config"
	"github.com/MikeSquared-Agency/Weightage/internal/hermes"
	"github.com/MikeSquared-Agency/Weightage/internal/sloref"
	"github.com/MikeSquared-Agency/Weightage/internal/store"
	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

func NewRouter(s store.Store, h hermes.Client, refs sloref.Client, sw Sweeper, e *weighting.Engine, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(cfg.Server.RateLimitPerMin))

	weights := NewWeightsHandler(e)
	composites := NewCompositesHandler(s, h, refs, e, logger)
	admin := NewAdminHandler(s, h, sw, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AccountMiddleware)

		r.Post("/weights/edit", weights.Edit)
		r.Post("/weights/impact", weights.Impact)
		r.Post("/weights/reset", weights.Reset)
		r.Post("/weights/remove", weights.Remove)
		r.Post("/weights/validate", weights.Validate)

		r.Get("/slos", composites.Candidates)

		r.Post("/composites", composites.Create)
		r.Get("/composites", composites.List)
		r.Get("/composites/{id}", composites.Get)
		r.Patch("/composites/{id}", composites.Update)
		r.Post("/composites/{id}/selections", composites.AddSelection)
		r.Delete("/composites/{id}/selections/{ref}", composites.RemoveSelection)
		r.Put("/composites/{id}/selections/{index}/weight", composites.EditWeight)
		r.Put("/composites/{id}/selections/{index}/impact", composites.EditImpact)
		r.Post("/composites/{id}/reset", composites.Reset)
		r.Get("/composites/{id}/payload", composites.Payload)
		r.Get("/composites/{id}/events", composites.Events)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.Server.AdminToken))
			r.Get("/admin/stats", admin.Stats)
			r.Post("/admin/sweep", admin.Sweep)
			r.Delete("/admin/composites/{id}", admin.DeleteComposite)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
