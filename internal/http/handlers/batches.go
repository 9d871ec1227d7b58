package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/duropiri/novai-sub000/internal/domain"
)

type batchCreateRequest struct {
	PrimaryCollections   []string `json:"primary_collections"`
	SecondaryCollections []string `json:"secondary_collections"`
	TertiaryCollections  []string `json:"tertiary_collections"`
}

type batchResponse struct {
	BatchID   string    `json:"batch_id"`
	Variants  int       `json:"variants"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BatchesCreate fans the collections out into variant jobs.
func (a *App) BatchesCreate(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.PrimaryCollections) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "primary_collections is required")
		return
	}

	b, _, err := a.Batches.CreateBatch(r.Context(), req.PrimaryCollections, req.SecondaryCollections, req.TertiaryCollections)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyBatch) {
			a.error(w, http.StatusBadRequest, "empty_batch", "collections contain no items")
			return
		}
		a.Logger.Error().Err(err).Msg("api: batch create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create batch")
		return
	}
	a.json(w, http.StatusAccepted, batchResponse{BatchID: b.ID, Variants: b.TotalVariants, ExpiresAt: b.ExpiresAt})
}

// BatchesStatus aggregates child-job states for one batch.
func (a *App) BatchesStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Batches.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		a.Logger.Error().Err(err).Msg("api: batch status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load batch")
		return
	}
	a.json(w, http.StatusOK, summary)
}

// BatchesZip builds (or returns the already-built) archive of batch results.
func (a *App) BatchesZip(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	url, err := a.Batches.CreateZip(r.Context(), batchID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
		case errors.Is(err, domain.ErrBatchExpired):
			a.error(w, http.StatusGone, "batch_expired", "batch results have expired")
		default:
			a.Logger.Error().Err(err).Str("batch_id", batchID).Msg("api: batch zip failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"batch_id": batchID, "zip_url": url})
}
