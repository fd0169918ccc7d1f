// Package jobs tracks the lifecycle and progress of asynchronous indexing
// runs. The registry is the only shared mutable state in the core.
package jobs

import (
	"sync"
	"time"
)

// Kind selects the indexing mode of a job.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
	KindSingle      Kind = "single"
)

// State is the job lifecycle state. Completed and failed are terminal.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Params carries per-run settings supplied at submission.
type Params struct {
	// AwardIDs restricts an incremental run to an explicit id list.
	AwardIDs []string `json:"award_ids,omitempty"`
	// SinceDate restricts an incremental run to recently updated awards.
	SinceDate string `json:"since_date,omitempty"`
	// AwardID names the document for a single run.
	AwardID string `json:"award_id,omitempty"`
	// Force re-embeds even when the stored body hash is unchanged.
	Force bool `json:"force,omitempty"`
}

// Progress counts pipeline advancement. Processed only grows while the
// job is running, and only the owning worker mutates it.
type Progress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
}

// Snapshot is an immutable view of a job, safe to serialize.
type Snapshot struct {
	JobID        string     `json:"job_id"`
	Kind         Kind       `json:"kind"`
	Status       State      `json:"status"`
	Progress     Progress   `json:"progress"`
	FailedChunks int        `json:"failed_chunks"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	Params       Params     `json:"params,omitempty"`
}

// Job is one tracked indexing run.
type Job struct {
	mu sync.Mutex

	id           string
	kind         Kind
	params       Params
	state        State
	progress     Progress
	failedChunks int
	startedAt    time.Time
	completedAt  time.Time
	lastErr      string

	cancel func()
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Kind returns the indexing mode.
func (j *Job) Kind() Kind { return j.kind }

// Params returns the submission parameters.
func (j *Job) Params() Params { return j.params }

// SetTotal records the number of documents the run will process.
func (j *Job) SetTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Total = n
}

// AddProcessed advances the processed counter. Ignored once terminal.
func (j *Job) AddProcessed(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateRunning {
		j.progress.Processed += n
	}
}

// AddFailedChunks records chunks whose batches exhausted their retries.
func (j *Job) AddFailedChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failedChunks += n
}

// Snapshot returns a consistent copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		JobID:        j.id,
		Kind:         j.kind,
		Status:       j.state,
		Progress:     j.progress,
		FailedChunks: j.failedChunks,
		StartedAt:    j.startedAt,
		Error:        j.lastErr,
		Params:       j.params,
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	return s
}

func (j *Job) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateQueued {
		j.state = StateRunning
	}
}

func (j *Job) markCompleted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		j.state = StateCompleted
		j.completedAt = time.Now().UTC()
	}
}

func (j *Job) markFailed(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		j.state = StateFailed
		j.lastErr = reason
		j.completedAt = time.Now().UTC()
	}
}

func (j *Job) currentState() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}
