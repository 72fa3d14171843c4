package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/handler"
)

func NewRouter(trigger *TriggerController, campaigns *handler.CampaignHandler, secret string, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireSecret(secret, log))
		r.Post("/jobs/weekly-plan", trigger.RunWeeklyPlan)
		r.Get("/campaigns/{key}", campaigns.GetCampaignHandlerWithStats)
	})
	return r
}
