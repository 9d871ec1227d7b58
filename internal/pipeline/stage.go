package pipeline

import (
	"time"

	"github.com/duropiri/novai-sub000/internal/engine"
)

// Stage is one ordered step of a job's pipeline. It owns a progress sub-range
// [Lo, Hi) from the job type's weight table and an ordered fallback chain of
// engines to try. Optional stages let the pipeline continue when every engine
// in the chain fails.
type Stage struct {
	Name     string
	Lo, Hi   int
	Chain    []engine.Engine
	Optional bool
	// Timeout bounds one attempt of this stage; zero means only the job
	// deadline applies.
	Timeout time.Duration
	Params  engine.Params
	// Cost prices the stage given the result and the engine that produced
	// it. Skipped stages contribute zero. Nil means the stage is free.
	Cost func(res *engine.Result, eng engine.Engine) int
}

// mapPercent projects an engine's own 0-100 estimate into the stage's
// sub-range. The result always lies in [Lo, Hi).
func (s Stage) mapPercent(enginePct int) int {
	if enginePct < 0 {
		enginePct = 0
	}
	if enginePct > 100 {
		enginePct = 100
	}
	mapped := s.Lo + enginePct*(s.Hi-s.Lo)/100
	if mapped >= s.Hi {
		mapped = s.Hi - 1
	}
	if mapped < s.Lo {
		mapped = s.Lo
	}
	return mapped
}
