package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTerminal(t *testing.T, j *Job) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := j.Snapshot(); s.Status.Terminal() {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", j.ID())
	return Snapshot{}
}

func TestJobLifecycleCompleted(t *testing.T) {
	m := NewManager(ManagerConfig{})

	job, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		j.SetTotal(3)
		j.AddProcessed(2)
		j.AddProcessed(1)
		return nil
	})
	require.NoError(t, err)

	snap := waitTerminal(t, job)
	assert.Equal(t, StateCompleted, snap.Status)
	assert.Equal(t, 3, snap.Progress.Total)
	assert.Equal(t, 3, snap.Progress.Processed)
	assert.Zero(t, snap.FailedChunks)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.CompletedAt)
	assert.False(t, snap.StartedAt.IsZero())
}

func TestJobLifecycleFailed(t *testing.T) {
	m := NewManager(ManagerConfig{})

	job, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		return errors.New("database unreachable")
	})
	require.NoError(t, err)

	snap := waitTerminal(t, job)
	assert.Equal(t, StateFailed, snap.Status)
	assert.Contains(t, snap.Error, "database unreachable")
	require.NotNil(t, snap.CompletedAt)
}

func TestJobCompletedWithFailedChunks(t *testing.T) {
	m := NewManager(ManagerConfig{})

	job, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		j.SetTotal(5)
		j.AddProcessed(4)
		j.AddFailedChunks(7)
		return nil
	})
	require.NoError(t, err)

	// Partial chunk failures still complete the job; the count is surfaced.
	snap := waitTerminal(t, job)
	assert.Equal(t, StateCompleted, snap.Status)
	assert.Equal(t, 7, snap.FailedChunks)
	assert.Equal(t, 4, snap.Progress.Processed)
}

func TestJobIDFormat(t *testing.T) {
	m := NewManager(ManagerConfig{})

	job, err := m.Submit(context.Background(), KindIncremental, Params{}, func(ctx context.Context, j *Job) error {
		return nil
	})
	require.NoError(t, err)
	waitTerminal(t, job)

	assert.Regexp(t, regexp.MustCompile(`^incremental_\d{8}_\d{6}(_\d+)?$`), job.ID())
}

func TestJobIDsUniqueWithinSameSecond(t *testing.T) {
	m := NewManager(ManagerConfig{})

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		job, err := m.Submit(context.Background(), KindSingle, Params{AwardID: fmt.Sprintf("a%d", i)}, func(ctx context.Context, j *Job) error {
			return nil
		})
		require.NoError(t, err)
		waitTerminal(t, job)

		_, dup := seen[job.ID()]
		assert.False(t, dup, "duplicate id %s", job.ID())
		seen[job.ID()] = struct{}{}
	}
}

func TestSubmitSingleFlight(t *testing.T) {
	m := NewManager(ManagerConfig{SingleFlight: true})

	release := make(chan struct{})
	first, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// A different kind is not blocked.
	other, err := m.Submit(context.Background(), KindSingle, Params{AwardID: "a1"}, func(ctx context.Context, j *Job) error {
		return nil
	})
	require.NoError(t, err)
	waitTerminal(t, other)

	close(release)
	waitTerminal(t, first)

	// Once the first job finishes, a new one of the same kind is accepted.
	second, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		return nil
	})
	require.NoError(t, err)
	waitTerminal(t, second)
}

func TestCancelRunningJob(t *testing.T) {
	m := NewManager(ManagerConfig{})

	started := make(chan struct{})
	job, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Cancel(job.ID()))

	snap := waitTerminal(t, job)
	assert.Equal(t, StateFailed, snap.Status)
	assert.Contains(t, snap.Error, "cancelled")
}

func TestCancelFinishedJob(t *testing.T) {
	m := NewManager(ManagerConfig{})

	job, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		return nil
	})
	require.NoError(t, err)
	waitTerminal(t, job)

	assert.ErrorIs(t, m.Cancel(job.ID()), ErrFinished)
	assert.ErrorIs(t, m.Cancel("nope"), ErrNotFound)
}

func TestPurge(t *testing.T) {
	m := NewManager(ManagerConfig{})

	release := make(chan struct{})
	running, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Purge(running.ID()), ErrNotTerminal)
	assert.ErrorIs(t, m.Purge("nope"), ErrNotFound)

	close(release)
	waitTerminal(t, running)

	require.NoError(t, m.Purge(running.ID()))
	_, err = m.Get(running.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMostRecentFirst(t *testing.T) {
	m := NewManager(ManagerConfig{})

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit(context.Background(), KindSingle, Params{AwardID: fmt.Sprintf("a%d", i)}, func(ctx context.Context, j *Job) error {
			return nil
		})
		require.NoError(t, err)
		waitTerminal(t, job)
		ids = append(ids, job.ID())
	}

	snaps := m.List()
	require.Len(t, snaps, 3)
	assert.Equal(t, ids[2], snaps[0].JobID)
	assert.Equal(t, ids[0], snaps[2].JobID)
}

func TestEvictionKeepsNewestTerminal(t *testing.T) {
	m := NewManager(ManagerConfig{MaxRetained: 2})

	var jobs []*Job
	for i := 0; i < 4; i++ {
		job, err := m.Submit(context.Background(), KindSingle, Params{AwardID: fmt.Sprintf("a%d", i)}, func(ctx context.Context, j *Job) error {
			return nil
		})
		require.NoError(t, err)
		waitTerminal(t, job)
		jobs = append(jobs, job)
	}

	assert.LessOrEqual(t, len(m.List()), 2)
	_, err := m.Get(jobs[0].ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(jobs[3].ID())
	assert.NoError(t, err)
}

func TestProgressIgnoredAfterTerminal(t *testing.T) {
	m := NewManager(ManagerConfig{})

	job, err := m.Submit(context.Background(), KindFull, Params{}, func(ctx context.Context, j *Job) error {
		j.SetTotal(1)
		j.AddProcessed(1)
		return nil
	})
	require.NoError(t, err)
	waitTerminal(t, job)

	job.AddProcessed(5)
	assert.Equal(t, 1, job.Snapshot().Progress.Processed)
}
