package domain

import (
	"encoding/json"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		next JobStatus
		want bool
	}{
		{"pending to queued", JobStatusPending, JobStatusQueued, true},
		{"pending to processing", JobStatusPending, JobStatusProcessing, true},
		{"queued to processing", JobStatusQueued, JobStatusProcessing, true},
		{"processing to completed", JobStatusProcessing, JobStatusCompleted, true},
		{"processing to failed", JobStatusProcessing, JobStatusFailed, true},
		{"processing back to queued", JobStatusProcessing, JobStatusQueued, false},
		{"queued back to pending", JobStatusQueued, JobStatusPending, false},
		{"completed to anything", JobStatusCompleted, JobStatusProcessing, false},
		{"failed to completed", JobStatusFailed, JobStatusCompleted, false},
		{"unknown status", JobStatus("bogus"), JobStatusQueued, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.next); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.next, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestDecodeOutputEmpty(t *testing.T) {
	j := &Job{}
	out := j.DecodeOutput()
	if out.Results == nil {
		t.Fatal("expected non-nil results map")
	}
	if len(out.Logs) != 0 {
		t.Fatalf("expected no logs, got %d", len(out.Logs))
	}
}

func TestDecodeInputRoundTrip(t *testing.T) {
	in := InputPayload{Prompt: "a red barn", Quantity: 3, BatchID: "b-1", VariantIdx: 2}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	j := &Job{InputJSON: raw}
	got, err := j.DecodeInput()
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != in.Prompt || got.Quantity != in.Quantity || got.BatchID != in.BatchID || got.VariantIdx != in.VariantIdx {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
