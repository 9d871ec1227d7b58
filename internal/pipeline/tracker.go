package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/infra"
)

// LogAction is the dedupe decision for an incoming log message.
type LogAction int

const (
	LogAppend LogAction = iota
	LogReplace
	LogDrop
)

var (
	timestampPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]\s*`)
	percentToken    = regexp.MustCompile(`\s*\b\d{1,3}(\.\d+)?%`)
)

// stripTimestamp removes the "[hh:mm:ss] " prefix a stored line carries.
func stripTimestamp(line string) string {
	return timestampPrefix.ReplaceAllString(line, "")
}

// basePattern reduces a message to its shape: timestamp and embedded
// percentages removed. Two polling updates that differ only in percentage
// share a base pattern.
func basePattern(line string) string {
	return strings.TrimSpace(percentToken.ReplaceAllString(stripTimestamp(line), ""))
}

// DedupeAction decides how a new message relates to the last stored line.
// Identical messages (ignoring timestamp) are dropped; messages that differ
// only in an embedded percentage replace the previous line so polling spam
// collapses into one entry tracking the latest value.
func DedupeAction(next, last string) LogAction {
	if last == "" {
		return LogAppend
	}
	if strings.TrimSpace(next) == stripTimestamp(last) {
		return LogDrop
	}
	if basePattern(next) == basePattern(last) {
		return LogReplace
	}
	return LogAppend
}

// Tracker bookkeeps one job's progress, status label and log lines while the
// pipeline runs it, persisting through the repository on every update.
// Progress is monotonic: attempts to move it backward are ignored.
type Tracker struct {
	repo   domain.JobRepository
	clock  domain.Clock
	logger infra.Logger

	jobID      string
	out        domain.OutputPayload
	progress   int
	externalID string
	extStatus  string
}

// NewTracker seeds a tracker from the job's persisted state so a requeued job
// keeps its log history.
func NewTracker(repo domain.JobRepository, clock domain.Clock, logger infra.Logger, job *domain.Job) *Tracker {
	return &Tracker{
		repo:     repo,
		clock:    clock,
		logger:   logger,
		jobID:    job.ID,
		out:      job.DecodeOutput(),
		progress: job.Progress,
	}
}

// Progress returns the last persisted progress value.
func (t *Tracker) Progress() int { return t.progress }

// Output returns the accumulated output payload, logs included.
func (t *Tracker) Output() domain.OutputPayload { return t.out }

// SetExternalRequest records the correlation handle of the currently active
// engine. Overwritten, never appended.
func (t *Tracker) SetExternalRequest(id string) { t.externalID = id }

// SetProgress advances progress, updates the external status label and
// appends (or collapses) a log line, then persists.
func (t *Tracker) SetProgress(ctx context.Context, percent int, statusLabel string) error {
	if percent > t.progress {
		t.progress = percent
	}
	t.extStatus = statusLabel
	t.appendLog(fmt.Sprintf("%s %d%%", statusLabel, t.progress))
	return t.persist(ctx)
}

// AddLog appends a message without moving progress.
func (t *Tracker) AddLog(ctx context.Context, message string) error {
	t.appendLog(message)
	return t.persist(ctx)
}

// RecordResult stores a stage's result summary and its artifact URLs on the
// output payload.
func (t *Tracker) RecordResult(stageName string, summary []byte, urls []string) {
	t.out.Results[stageName] = summary
	t.out.Assets = append(t.out.Assets, urls...)
}

func (t *Tracker) appendLog(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	last := ""
	if n := len(t.out.Logs); n > 0 {
		last = t.out.Logs[n-1]
	}
	stamped := fmt.Sprintf("[%s] %s", t.clock.Now().Format("15:04:05"), message)
	switch DedupeAction(message, last) {
	case LogDrop:
		return
	case LogReplace:
		t.out.Logs[len(t.out.Logs)-1] = stamped
	default:
		t.out.Logs = append(t.out.Logs, stamped)
	}
	if len(t.out.Logs) > domain.MaxLogEntries {
		t.out.Logs = t.out.Logs[len(t.out.Logs)-domain.MaxLogEntries:]
	}
}

func (t *Tracker) persist(ctx context.Context) error {
	raw := domain.MustMarshal(t.out)
	if err := t.repo.UpdateProgress(ctx, t.jobID, t.progress, t.externalID, t.extStatus, raw); err != nil {
		t.logger.Error().Err(err).Str("job_id", t.jobID).Msg("pipeline: persist progress failed")
		return err
	}
	return nil
}
