package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyRunning rejects a submission while a job of the same kind
	// is still active and the single-flight policy is enabled.
	ErrAlreadyRunning = errors.New("jobs: a job of this kind is already running")
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("jobs: job not found")
	// ErrNotTerminal rejects purging a job that has not finished.
	ErrNotTerminal = errors.New("jobs: job is not in a terminal state")
	// ErrFinished rejects cancelling a job that has already finished.
	ErrFinished = errors.New("jobs: job has already finished")
)

// Runner executes the actual indexing work for a job. A non-nil error
// marks the job failed; context cancellation is reported as a
// cancellation reason.
type Runner func(ctx context.Context, job *Job) error

// ManagerConfig tunes registry behavior.
type ManagerConfig struct {
	// SingleFlight rejects concurrent submissions of the same kind.
	SingleFlight bool
	// MaxRetained bounds the registry; oldest terminal jobs are evicted
	// beyond this count. Zero means 100.
	MaxRetained int
}

// Manager is a mutex-guarded job registry. It is created once at process
// start and injected into the API layer; jobs do not survive a restart.
type Manager struct {
	cfg ManagerConfig

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string // submission order, oldest first

	lastStamp string
	seq       int

	wg sync.WaitGroup
}

// NewManager creates an empty registry.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 100
	}
	return &Manager{cfg: cfg, jobs: make(map[string]*Job)}
}

// Submit registers a job and starts its runner on a background goroutine.
// Returns ErrAlreadyRunning under the single-flight policy when a job of
// the same kind is still queued or running.
func (m *Manager) Submit(ctx context.Context, kind Kind, params Params, run Runner) (*Job, error) {
	m.mu.Lock()

	if m.cfg.SingleFlight {
		for _, j := range m.jobs {
			if j.kind == kind && !j.currentState().Terminal() {
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, j.id)
			}
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		id:        m.nextIDLocked(kind),
		kind:      kind,
		params:    params,
		state:     StateQueued,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	m.jobs[job.id] = job
	m.order = append(m.order, job.id)
	m.evictLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		job.markRunning()
		log.Info().Str("job_id", job.id).Str("kind", string(kind)).Msg("indexing job started")

		err := run(jobCtx, job)
		switch {
		case err == nil:
			job.markCompleted()
			log.Info().Str("job_id", job.id).Msg("indexing job completed")
		case errors.Is(err, context.Canceled):
			job.markFailed("cancelled: " + err.Error())
			log.Warn().Str("job_id", job.id).Msg("indexing job cancelled")
		default:
			job.markFailed(err.Error())
			log.Error().Err(err).Str("job_id", job.id).Msg("indexing job failed")
		}
	}()

	return job, nil
}

// Get returns the job for an id.
func (m *Manager) Get(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

// List returns snapshots of all retained jobs, most recent first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if j, ok := m.jobs[m.order[i]]; ok {
			out = append(out, j.Snapshot())
		}
	}
	return out
}

// Cancel asks a running job to stop. In-flight work is allowed to finish;
// no new batches are admitted, and the job ends failed with a cancellation
// reason.
func (m *Manager) Cancel(jobID string) error {
	j, err := m.Get(jobID)
	if err != nil {
		return err
	}
	if j.currentState().Terminal() {
		return ErrFinished
	}
	j.cancel()
	return nil
}

// Purge removes a terminal job from the registry.
func (m *Manager) Purge(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !j.currentState().Terminal() {
		return ErrNotTerminal
	}
	delete(m.jobs, jobID)
	m.removeFromOrderLocked(jobID)
	return nil
}

// Wait blocks until all submitted jobs have finished. Used at shutdown
// and in tests.
func (m *Manager) Wait() { m.wg.Wait() }

// nextIDLocked builds "{kind}_{timestamp}" ids, unique even for
// submissions within the same second via a monotonic suffix.
func (m *Manager) nextIDLocked(kind Kind) string {
	stamp := time.Now().UTC().Format("20060102_150405")
	if stamp == m.lastStamp {
		m.seq++
	} else {
		m.lastStamp = stamp
		m.seq = 0
	}
	if m.seq == 0 {
		return fmt.Sprintf("%s_%s", kind, stamp)
	}
	return fmt.Sprintf("%s_%s_%d", kind, stamp, m.seq)
}

// evictLocked drops the oldest terminal jobs once the registry exceeds
// its retention bound. Active jobs are never evicted.
func (m *Manager) evictLocked() {
	for len(m.jobs) > m.cfg.MaxRetained {
		evicted := false
		for _, id := range m.order {
			if j, ok := m.jobs[id]; ok && j.currentState().Terminal() {
				delete(m.jobs, id)
				m.removeFromOrderLocked(id)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (m *Manager) removeFromOrderLocked(jobID string) {
	for i, id := range m.order {
		if id == jobID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
