package batch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/storage"
	"github.com/duropiri/novai-sub000/pkg/zip"
)

// CollectionResolver looks up the ordered item URLs of one collection.
type CollectionResolver interface {
	Items(ctx context.Context, collectionID string) ([]string, error)
}

// Assignment pairs one primary item with its round-robin companions. Empty
// strings mean the corresponding list was absent.
type Assignment struct {
	Primary   string
	Secondary string
	Tertiary  string
}

// RoundRobin distributes secondary and tertiary items across primary items by
// modulo indexing: the i-th primary gets secondary[i mod S] and
// tertiary[i mod T].
func RoundRobin(primary, secondary, tertiary []string) []Assignment {
	out := make([]Assignment, len(primary))
	for i, p := range primary {
		a := Assignment{Primary: p}
		if len(secondary) > 0 {
			a.Secondary = secondary[i%len(secondary)]
		}
		if len(tertiary) > 0 {
			a.Tertiary = tertiary[i%len(tertiary)]
		}
		out[i] = a
	}
	return out
}

// StatusSummary aggregates a batch's child-job states.
type StatusSummary struct {
	BatchID    string    `json:"batch_id"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Processing int       `json:"processing"`
	Pending    int       `json:"pending"`
	ZipURL     string    `json:"zip_url,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Generator owns batch fan-out, aggregation, archiving and expiry. The batch
// store is explicit state passed in at construction, never package-global.
type Generator struct {
	store      *Store
	jobs       domain.JobRepository
	resolver   CollectionResolver
	files      *storage.FileStore
	httpClient *http.Client
	logger     infra.Logger
	clock      domain.Clock
	ttl        time.Duration
}

// NewGenerator wires the batch generator. ttl is the batch lifetime (24h in
// production configuration).
func NewGenerator(store *Store, jobs domain.JobRepository, resolver CollectionResolver, files *storage.FileStore, logger infra.Logger, clock domain.Clock, ttl time.Duration) *Generator {
	return &Generator{
		store:      store,
		jobs:       jobs,
		resolver:   resolver,
		files:      files,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		clock:      clock,
		ttl:        ttl,
	}
}

// CreateBatch gathers items from the given collections (collection order,
// then item order), builds round-robin assignments and creates one pending
// variant job per primary item. A batch with no primary items is rejected
// before any job is created.
func (g *Generator) CreateBatch(ctx context.Context, primaryCollections, secondaryCollections, tertiaryCollections []string) (Batch, []domain.Job, error) {
	primary, err := g.gather(ctx, primaryCollections)
	if err != nil {
		return Batch{}, nil, err
	}
	if len(primary) == 0 {
		return Batch{}, nil, domain.ErrEmptyBatch
	}
	secondary, err := g.gather(ctx, secondaryCollections)
	if err != nil {
		return Batch{}, nil, err
	}
	tertiary, err := g.gather(ctx, tertiaryCollections)
	if err != nil {
		return Batch{}, nil, err
	}

	now := g.clock.Now()
	b := Batch{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(g.ttl),
		TotalVariants: len(primary),
	}

	assignments := RoundRobin(primary, secondary, tertiary)
	jobs := make([]domain.Job, 0, len(assignments))
	for i, a := range assignments {
		job := domain.Job{
			ID:          uuid.NewString(),
			Type:        domain.JobTypeVariant,
			ReferenceID: b.ID,
			Status:      domain.JobStatusPending,
			InputJSON: domain.MustMarshal(domain.InputPayload{
				SourceURL:  a.Primary,
				TargetURL:  a.Secondary,
				AudioURL:   a.Tertiary,
				BatchID:    b.ID,
				VariantIdx: i,
			}),
		}
		if err := g.jobs.Create(ctx, &job); err != nil {
			return Batch{}, nil, fmt.Errorf("create variant job %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}

	g.store.Put(b)
	g.logger.Info().Str("batch_id", b.ID).Int("variants", len(jobs)).Msg("batch: created")
	return b, jobs, nil
}

// Status aggregates child-job states for one batch.
func (g *Generator) Status(ctx context.Context, batchID string) (StatusSummary, error) {
	b, ok := g.store.Get(batchID)
	if !ok {
		return StatusSummary{}, domain.ErrNotFound
	}
	children, err := g.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return StatusSummary{}, err
	}
	summary := StatusSummary{BatchID: batchID, Total: len(children), ZipURL: b.ZipURL, ExpiresAt: b.ExpiresAt}
	for _, child := range children {
		switch child.Status {
		case domain.JobStatusCompleted:
			summary.Completed++
		case domain.JobStatusFailed:
			summary.Failed++
		case domain.JobStatusProcessing:
			summary.Processing++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

// CreateZip bundles every completed child's first artifact into one archive
// and returns its URL. Idempotent: an already-built archive is returned as
// is. An expired batch is refused before any download or upload happens.
func (g *Generator) CreateZip(ctx context.Context, batchID string) (string, error) {
	b, ok := g.store.Get(batchID)
	if !ok {
		return "", domain.ErrNotFound
	}
	if b.Expired(g.clock.Now()) {
		return "", domain.ErrBatchExpired
	}
	if b.ZipURL != "" {
		return b.ZipURL, nil
	}

	children, err := g.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return "", err
	}

	entries := make([]zip.Entry, len(children))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, child := range children {
		if child.Status != domain.JobStatusCompleted {
			continue
		}
		out := child.DecodeOutput()
		if len(out.Assets) == 0 {
			continue
		}
		i, url := i, out.Assets[0]
		eg.Go(func() error {
			data, err := g.fetch(egCtx, url)
			if err != nil {
				// A single bad download skips that item, never the archive.
				g.logger.Warn().Err(err).Str("batch_id", batchID).Str("url", url).Msg("batch: skipping variant download")
				return nil
			}
			entries[i] = zip.Entry{Filename: variantFilename(i, url), Data: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	archive, skipped, err := zip.Archive(entries)
	if err != nil {
		return "", err
	}
	if skipped > 0 {
		g.logger.Warn().Str("batch_id", batchID).Int("skipped", skipped).Msg("batch: archive is partial")
	}

	url, err := g.files.Upload(ctx, archiveKey(batchID), archive)
	if err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}
	g.store.SetZipURL(batchID, url)
	return url, nil
}

// CleanupExpired deletes result artifacts and archives of every expired
// batch, best-effort, then drops the in-memory records. Returns the number of
// batches removed.
func (g *Generator) CleanupExpired(ctx context.Context) int {
	removed := 0
	for _, b := range g.store.ExpiredBefore(g.clock.Now()) {
		var errs *multierror.Error

		children, err := g.jobs.ListByBatch(ctx, b.ID)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		for _, child := range children {
			for _, url := range child.DecodeOutput().Assets {
				if key := g.files.KeyFromURL(url); key != "" {
					if err := g.files.Delete(ctx, key); err != nil {
						errs = multierror.Append(errs, err)
					}
				}
			}
		}
		if err := g.files.Delete(ctx, archiveKey(b.ID)); err != nil {
			errs = multierror.Append(errs, err)
		}

		if err := errs.ErrorOrNil(); err != nil {
			g.logger.Warn().Err(err).Str("batch_id", b.ID).Msg("batch: partial cleanup")
		}
		g.store.Delete(b.ID)
		removed++
		g.logger.Info().Str("batch_id", b.ID).Msg("batch: expired and removed")
	}
	return removed
}

func (g *Generator) gather(ctx context.Context, collections []string) ([]string, error) {
	var items []string
	for _, id := range collections {
		got, err := g.resolver.Items(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve collection %s: %w", id, err)
		}
		items = append(items, got...)
	}
	return items, nil
}

// fetch reads an artifact either from the local store (for URLs it issued) or
// over HTTP.
func (g *Generator) fetch(ctx context.Context, url string) ([]byte, error) {
	if key := g.files.KeyFromURL(url); key != "" {
		return g.files.Read(ctx, key)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func archiveKey(batchID string) string {
	return fmt.Sprintf("batches/%s/variants.zip", batchID)
}

func variantFilename(index int, url string) string {
	ext := path.Ext(url)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "?&") {
		ext = ".bin"
	}
	return fmt.Sprintf("variant-%03d%s", index+1, ext)
}
