package routehandlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kerbrat/veilleur/datastore"
	"github.com/kerbrat/veilleur/webutil"
)

// CampaignHandler exposes read-only views of campaign run state
// (counters, cursor, last run). Campaign management itself lives in a
// separate layer; the engine only reports.
type CampaignHandler struct {
	Store datastore.CampaignStore
}

func NewCampaignHandler(store datastore.CampaignStore) *CampaignHandler {
	return &CampaignHandler{Store: store}
}

func (h *CampaignHandler) HandleGetCampaigns(w http.ResponseWriter, r *http.Request) error {
	campaigns, err := h.Store.ListCampaigns(r.Context())
	if err != nil {
		return webutil.ErrInternalServerWrap("Failed to list campaigns", err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, campaigns)
	return nil
}

func (h *CampaignHandler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return webutil.ErrBadRequest("Invalid campaign ID")
	}

	campaign, err := h.Store.GetCampaign(r.Context(), id)
	if err != nil {
		return webutil.ErrNotFoundWrap("Campaign not found", err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, campaign)
	return nil
}
