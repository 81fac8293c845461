package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-registrar/pkg/acquire"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Campaigns is the slice of the acquirer the API drives.
type Campaigns interface {
	Launch(ctx context.Context) (acquire.Snapshot, error)
	Current() (acquire.Snapshot, bool)
	Cancel() bool
}

type CampaignAPI struct {
	Campaigns Campaigns
	Store     credential.Store
	Device    urn.URN
	Logger    *slog.Logger
}

func NewCampaignAPI(campaigns Campaigns, store credential.Store, device urn.URN, logger *slog.Logger) *CampaignAPI {
	return &CampaignAPI{
		Campaigns: campaigns,
		Store:     store,
		Device:    device,
		Logger:    logger,
	}
}

// CredentialView is what callers see of the stored credential.
type CredentialView struct {
	DeviceID          string    `json:"device_id"`
	CredentialPreview string    `json:"credential_preview"`
	Platform          string    `json:"platform,omitempty"`
	DeviceName        string    `json:"device_name,omitempty"`
	Source            string    `json:"source,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (api *CampaignAPI) GetCampaign(w http.ResponseWriter, r *http.Request) {
	snap, ok := api.Campaigns.Current()
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "no campaign")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (api *CampaignAPI) StartCampaign(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snap, err := api.Campaigns.Launch(r.Context())
	if errors.Is(err, acquire.ErrCampaignInProgress) {
		response.WriteJSONError(w, http.StatusConflict, "campaign already in progress")
		return
	}
	if err != nil {
		api.Logger.Error("StartCampaign: launch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to start campaign")
		return
	}
	api.Logger.Info("StartCampaign: campaign started", "caller", caller, "campaign_id", snap.ID)

	writeJSON(w, http.StatusAccepted, snap)
}

func (api *CampaignAPI) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !api.Campaigns.Cancel() {
		response.WriteJSONError(w, http.StatusConflict, "no campaign in progress")
		return
	}
	api.Logger.Info("CancelCampaign: campaign cancelled", "caller", caller)

	w.WriteHeader(http.StatusNoContent)
}

func (api *CampaignAPI) GetCredential(w http.ResponseWriter, r *http.Request) {
	rec, err := api.Store.Lookup(r.Context(), api.Device)
	if errors.Is(err, credential.ErrNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "no credential registered")
		return
	}
	if err != nil {
		api.Logger.Error("GetCredential: lookup failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, CredentialView{
		DeviceID:          api.Device.String(),
		CredentialPreview: credential.Redact(rec.Token),
		Platform:          rec.Platform,
		DeviceName:        rec.DeviceName,
		Source:            rec.Source,
		UpdatedAt:         rec.UpdatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
