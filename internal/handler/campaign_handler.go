// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/service"
)

// CampaignHandler serves read-only views of campaign checkpoints
type CampaignHandler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := model.ParseCampaignKey(key); err != nil {
		http.Error(w, "invalid campaign key", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), key)
	if err != nil {
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.Log.Error().Err(err).Str("campaign", key).Msg("❌ Error fetching campaign")
		http.Error(w, "failed to fetch campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}
