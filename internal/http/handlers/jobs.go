package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/duropiri/novai-sub000/internal/domain"
)

type jobCreateRequest struct {
	Type        string   `json:"type"`
	ReferenceID string   `json:"reference_id"`
	Prompt      string   `json:"prompt"`
	Quantity    int      `json:"quantity"`
	AspectRatio string   `json:"aspect_ratio"`
	SourceURL   string   `json:"source_url"`
	TargetURL   string   `json:"target_url"`
	AudioURL    string   `json:"audio_url"`
	Resolution  string   `json:"resolution"`
	References  []string `json:"references"`
}

type jobResponse struct {
	JobID     string     `json:"job_id"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	CostCents *int       `json:"cost_cents,omitempty"`
	Error     string     `json:"error,omitempty"`
	Assets    []string   `json:"assets,omitempty"`
	Logs      []string   `json:"logs,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	DoneAt    *time.Time `json:"completed_at,omitempty"`
}

var creatableTypes = map[domain.JobType]bool{
	domain.JobTypeTraining: true,
	domain.JobTypeDiagram:  true,
	domain.JobTypeFaceSwap: true,
	domain.JobTypeImage:    true,
}

// JobsCreate accepts a generation request and places it on the queue. Variant
// jobs are not created here; they only exist as batch children.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobType := domain.JobType(req.Type)
	if !creatableTypes[jobType] {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported job type")
		return
	}
	if err := validateInput(jobType, req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		ReferenceID: req.ReferenceID,
		Status:      domain.JobStatusPending,
		InputJSON: domain.MustMarshal(domain.InputPayload{
			Prompt:      req.Prompt,
			Quantity:    req.Quantity,
			AspectRatio: req.AspectRatio,
			SourceURL:   req.SourceURL,
			TargetURL:   req.TargetURL,
			AudioURL:    req.AudioURL,
			Resolution:  req.Resolution,
			References:  req.References,
		}),
	}
	if err := a.Jobs.Create(r.Context(), &job); err != nil {
		a.Logger.Error().Err(err).Msg("api: job create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	if err := a.Jobs.MarkQueued(r.Context(), job.ID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("api: job enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	a.json(w, http.StatusAccepted, jobResponse{
		JobID:  job.ID,
		Type:   string(job.Type),
		Status: string(domain.JobStatusQueued),
	})
}

// JobsGet returns the current view of one job, including its progress log.
func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Msg("api: job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	out := job.DecodeOutput()
	a.json(w, http.StatusOK, jobResponse{
		JobID:     job.ID,
		Type:      string(job.Type),
		Status:    string(job.Status),
		Progress:  job.Progress,
		CostCents: job.CostCents,
		Error:     job.ErrorMessage,
		Assets:    out.Assets,
		Logs:      out.Logs,
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
		DoneAt:    job.CompletedAt,
	})
}

// JobsRetry returns a failed job to the queue under the same id. Completed
// and in-flight jobs are refused.
func (a *App) JobsRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := a.Jobs.ResetForRetry(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrTerminalJob):
			a.error(w, http.StatusConflict, "conflict", "only failed jobs can be retried")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: job retry failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to retry job")
		}
		return
	}
	if err := a.Jobs.MarkQueued(r.Context(), jobID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: retry enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: jobID, Status: string(domain.JobStatusQueued)})
}

func validateInput(jobType domain.JobType, req jobCreateRequest) error {
	switch jobType {
	case domain.JobTypeImage, domain.JobTypeDiagram:
		if req.Prompt == "" {
			return errors.New("prompt is required")
		}
	case domain.JobTypeFaceSwap:
		if req.SourceURL == "" || req.TargetURL == "" {
			return errors.New("source_url and target_url are required")
		}
	case domain.JobTypeTraining:
		if req.SourceURL == "" && len(req.References) == 0 {
			return errors.New("source_url or references are required")
		}
	}
	return nil
}
