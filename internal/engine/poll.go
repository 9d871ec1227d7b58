package engine

import (
	"context"
	"time"
)

// Poller is the fire-and-poll transport shape: submit a request, then fetch
// status until the operation is terminal.
type Poller interface {
	Submit(ctx context.Context, params Params) (requestID string, err error)
	Poll(ctx context.Context, requestID string) (Operation, error)
}

// PollConfig bounds one polling loop.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollConfig polls every 5s for up to 240 attempts (20 minutes).
var DefaultPollConfig = PollConfig{Interval: 5 * time.Second, MaxAttempts: 240}

// RunPolling drives a Poller to a terminal Operation, forwarding every
// observed status to onProgress. Exhausting MaxAttempts surfaces ErrTimedOut;
// context expiry surfaces the context error so the caller's deadline handling
// stays uniform across transport shapes.
func RunPolling(ctx context.Context, p Poller, params Params, cfg PollConfig, onProgress ProgressFunc) (*Result, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollConfig.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollConfig.MaxAttempts
	}

	requestID, err := p.Submit(ctx, params)
	if err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(0, string(StatusQueued))
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		op, err := p.Poll(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(estimatePercent(op, attempt, cfg.MaxAttempts), string(op.Status))
		}
		switch op.Status {
		case StatusCompleted:
			return op.Result, nil
		case StatusFailed:
			if op.Error != "" {
				return nil, RemoteFailed("%s", op.Error)
			}
			return nil, RemoteFailed("operation %s failed", requestID)
		}
	}
	return nil, TimedOut("operation %s still pending after %d polls", requestID, cfg.MaxAttempts)
}

// estimatePercent favors a provider-reported percentage when the operation
// carries one, otherwise derives a coarse estimate from poll attempts so the
// caller still sees forward motion.
func estimatePercent(op Operation, attempt, maxAttempts int) int {
	if op.Result != nil && op.Status == StatusCompleted {
		return 100
	}
	pct := attempt * 100 / maxAttempts
	if pct > 95 {
		pct = 95
	}
	return pct
}
