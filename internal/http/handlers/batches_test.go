package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/batch"
	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/storage"
)

type staticResolver map[string][]string

func (r staticResolver) Items(ctx context.Context, collectionID string) ([]string, error) {
	return r[collectionID], nil
}

func newBatchApp(t *testing.T, resolver batch.CollectionResolver) (*App, *fakeJobs) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir(), "http://localhost/static")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	jobs := newFakeJobs()
	logger := zerolog.New(io.Discard)
	gen := batch.NewGenerator(batch.NewStore(), jobs, resolver, files, logger, domain.SystemClock{}, 24*time.Hour)
	return &App{Jobs: jobs, Batches: gen, Files: files, Logger: logger}, jobs
}

func batchesRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/batches", app.BatchesCreate)
	r.Get("/v1/batches/{id}", app.BatchesStatus)
	r.Post("/v1/batches/{id}/zip", app.BatchesZip)
	return r
}

func TestBatchesCreateFansOut(t *testing.T) {
	app, jobs := newBatchApp(t, staticResolver{
		"videos": {"v1", "v2", "v3"},
		"faces":  {"a1", "a2"},
	})
	router := batchesRouter(app)

	body := bytes.NewBufferString(`{"primary_collections":["videos"],"secondary_collections":["faces"]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Variants != 3 {
		t.Fatalf("variants = %d, want 3", resp.Variants)
	}
	if len(jobs.jobs) != 3 {
		t.Fatalf("child jobs = %d, want 3", len(jobs.jobs))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/"+resp.BatchID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status fetch = %d, want 200", rec.Code)
	}
}

func TestBatchesCreateRejectsEmpty(t *testing.T) {
	app, jobs := newBatchApp(t, staticResolver{"empty": nil})
	router := batchesRouter(app)

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"primary_collections":["empty"]}`)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(jobs.jobs) != 0 {
		t.Fatal("no child job may be created for a rejected batch")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without collections = %d, want 400", rec.Code)
	}
}

func TestBatchesZipUnknownBatch(t *testing.T) {
	app, _ := newBatchApp(t, staticResolver{})
	router := batchesRouter(app)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches/absent/zip", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
