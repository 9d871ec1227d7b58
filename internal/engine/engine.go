// Package engine defines the uniform contract every third-party generation
// provider is wrapped behind. Providers come in two transport shapes —
// fire-and-poll and blocking subscribe — and both are normalized here so the
// pipeline never branches on how a provider reports status.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Status is the normalized state of one in-flight provider operation.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the operation has reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Params carries the provider-agnostic inputs for one stage attempt. Provider
// adapters pick the fields they understand.
type Params struct {
	Prompt      string
	Quantity    int
	AspectRatio string
	SourceURL   string
	TargetURL   string
	AudioURL    string
	Resolution  string
	References  []string
	RequestID   string
}

// Result is the normalized output of a successful stage attempt.
type Result struct {
	URLs       []string
	Format     string
	Seconds    float64
	Frames     int
	Resolution string
	Detail     map[string]any
}

// Empty reports a degenerate result that produced no usable artifact. The
// pipeline treats these as failures rather than passing them downstream.
func (r *Result) Empty() bool {
	return r == nil || (len(r.URLs) == 0 && r.Frames == 0 && r.Seconds == 0)
}

// Operation is the ephemeral handle an adapter exposes while a remote call is
// in flight. Its lifetime is bounded by one stage attempt.
type Operation struct {
	ID     string
	Status Status
	Result *Result
	Logs   []string
	Error  string
}

// ProgressFunc receives status callbacks from the active adapter. Percent is
// the provider's own 0-100 estimate; the pipeline remaps it into the stage's
// sub-range before persisting.
type ProgressFunc func(percent int, status string)

// Engine is the adapter contract. Run blocks until the operation is terminal
// and surfaces exactly three failure modes: ErrRejected, ErrRemoteFailed and
// ErrTimedOut (possibly wrapped with provider detail).
type Engine interface {
	Name() string
	Run(ctx context.Context, params Params, onProgress ProgressFunc) (*Result, error)
}

var (
	// ErrRejected marks a caller error: the provider refused the input.
	// Fatal for the whole job; fallback does not apply.
	ErrRejected = errors.New("engine: request rejected")
	// ErrRemoteFailed marks a provider-side failure; the stage may fall back.
	ErrRemoteFailed = errors.New("engine: provider failed")
	// ErrTimedOut marks an exceeded poll budget or deadline; treated like a
	// provider failure for fallback but tagged distinctly in messages.
	ErrTimedOut = errors.New("engine: timed out")
)

// Rejected wraps detail as a caller-error rejection.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// RemoteFailed wraps detail as a provider-side failure.
func RemoteFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRemoteFailed, fmt.Sprintf(format, args...))
}

// TimedOut wraps detail as a deadline/attempt exhaustion.
func TimedOut(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTimedOut, fmt.Sprintf(format, args...))
}

// IsRejected reports whether err is a caller-error rejection.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

// IsTimeout reports whether err is a timeout, including raw context expiry
// from an adapter that returned ctx.Err() directly.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded)
}
