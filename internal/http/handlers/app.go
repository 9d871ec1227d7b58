// Package handlers implements the HTTP API: job intake and inspection, batch
// fan-out, and archive download.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/duropiri/novai-sub000/internal/batch"
	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/storage"
)

// App is the handler container. All dependencies are injected at startup.
type App struct {
	Jobs    domain.JobRepository
	Batches *batch.Generator
	Files   *storage.FileStore
	Logger  infra.Logger
}

func NewApp(jobs domain.JobRepository, batches *batch.Generator, files *storage.FileStore, logger infra.Logger) *App {
	return &App{Jobs: jobs, Batches: batches, Files: files, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
