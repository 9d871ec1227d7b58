package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeTraining JobType = "training"
	JobTypeDiagram  JobType = "diagram-generation"
	JobTypeFaceSwap JobType = "face-swap"
	JobTypeImage    JobType = "image-generation"
	JobTypeVariant  JobType = "variant"
)

// JobStatus enumerates job lifecycle states. Transitions only move forward:
// pending -> queued -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further mutation.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var statusRank = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusQueued:     1,
	JobStatusProcessing: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
}

// CanTransition reports whether moving from one status to the next respects
// the forward-only lifecycle. Terminal states accept nothing.
func CanTransition(from, next JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	rf, okf := statusRank[from]
	rn, okn := statusRank[next]
	if !okf || !okn {
		return false
	}
	return rn > rf
}

// MaxLogEntries caps the log list persisted on a job's output payload.
const MaxLogEntries = 50

// Job encapsulates one asynchronous generation task acting on a domain entity.
type Job struct {
	ID                string
	Type              JobType
	ReferenceID       string
	Status            JobStatus
	Progress          int
	ExternalRequestID string
	ExternalStatus    string
	InputJSON         []byte
	OutputJSON        []byte
	CostCents         *int
	ErrorMessage      string
	Attempts          int
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// OutputPayload is the structured view over Job.OutputJSON. Stage results land
// under Results keyed by stage name; Logs is the capped human-readable history.
type OutputPayload struct {
	Results map[string]json.RawMessage `json:"results,omitempty"`
	Assets  []string                   `json:"assets,omitempty"`
	Logs    []string                   `json:"logs,omitempty"`
}

// DecodeOutput unmarshals the stored output payload, returning an empty
// payload for a job that has produced nothing yet.
func (j *Job) DecodeOutput() OutputPayload {
	var out OutputPayload
	if len(j.OutputJSON) > 0 {
		_ = json.Unmarshal(j.OutputJSON, &out)
	}
	if out.Results == nil {
		out.Results = map[string]json.RawMessage{}
	}
	return out
}

// InputPayload is the structured view over Job.InputJSON. Fields are a union
// across job types; processors read only what applies to them.
type InputPayload struct {
	Prompt      string   `json:"prompt,omitempty"`
	Quantity    int      `json:"quantity,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	TargetURL   string   `json:"target_url,omitempty"`
	AudioURL    string   `json:"audio_url,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	BatchID     string   `json:"batch_id,omitempty"`
	VariantIdx  int      `json:"variant_index,omitempty"`
	References  []string `json:"references,omitempty"`
}

// DecodeInput unmarshals the stored input payload.
func (j *Job) DecodeInput() (InputPayload, error) {
	var in InputPayload
	if len(j.InputJSON) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(j.InputJSON, &in); err != nil {
		return in, err
	}
	return in, nil
}

// MustMarshal serializes v or panics; reserved for payloads built from
// in-process values that cannot fail to encode.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
