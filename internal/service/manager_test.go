package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/pipeline"
)

// fakeRunner simulates pipeline execution without touching real
// dependencies.
type fakeRunner struct {
	mu      sync.Mutex
	result  models.AnalysisResult
	err     error
	delay   time.Duration
	block   chan struct{} // when set, Run waits for close or ctx
	started chan string
	calls   int
}

func (r *fakeRunner) Run(ctx context.Context, job *models.Job, emit *pipeline.Emitter) (*models.AnalysisResult, error) {
	r.mu.Lock()
	r.calls++
	block := r.block
	delay := r.delay
	err := r.err
	res := r.result
	started := r.started
	r.mu.Unlock()

	if started != nil {
		started <- job.ID
	}

	emit.StageStarted(ctx, models.StageClassification)

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	emit.StageCompleted(ctx, models.StageReport, nil)
	res.JobID = job.ID
	return &res, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// stageWalkingRunner advances job.Stage through the full sequence the
// way the real pipeline does, emitting events as it goes.
type stageWalkingRunner struct{}

func (r *stageWalkingRunner) Run(ctx context.Context, job *models.Job, emit *pipeline.Emitter) (*models.AnalysisResult, error) {
	stages := []models.Stage{
		models.StageClassification, models.StageExtraction, models.StageRedaction,
		models.StageChunking, models.StageEmbedding, models.StageStorage,
		models.StageCorrelation, models.StageAnalysis, models.StageReport,
	}
	for _, stage := range stages {
		job.Stage = stage
		emit.StageStarted(ctx, stage)
		emit.StageCompleted(ctx, stage, nil)
	}
	job.Stage = models.StageCompleted
	return &models.AnalysisResult{JobID: job.ID, ExecutiveSummary: "walked"}, nil
}

// fakeJobStore records persisted jobs and events.
type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[string][]models.Job
	events      []models.ProgressEvent
	interrupted int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string][]models.Job)}
}

func (s *fakeJobStore) UpsertJob(_ context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = append(s.jobs[job.ID], job)
	return nil
}

func (s *fakeJobStore) AppendEvent(_ context.Context, ev models.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeJobStore) MarkInterruptedJobs(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted, nil
}

func (s *fakeJobStore) ListJobs(_ context.Context) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, history := range s.jobs {
		out = append(out, history[len(history)-1])
	}
	return out, nil
}

func (s *fakeJobStore) EventsSince(_ context.Context, jobID string, afterSeq int) ([]models.ProgressEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProgressEvent
	for _, ev := range s.events {
		if ev.JobID == jobID && ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeJobStore) history(id string) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Job, len(s.jobs[id]))
	copy(out, s.jobs[id])
	return out
}

func startManager(t *testing.T, runner Runner, store JobStore) *Manager {
	t.Helper()
	m := NewManager(runner, store, nil, 2)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func sampleFiles() []models.InputFile {
	return []models.InputFile{{Name: "app.log", Content: []byte("Work Queue paused")}}
}

func waitTerminal(t *testing.T, m *Manager, id string) models.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := m.Get(id)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state (status %s)", id, job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	runner := &fakeRunner{result: models.AnalysisResult{ExecutiveSummary: "queue stall", Severity: models.SeverityHigh}}
	store := newFakeJobStore()
	m := startManager(t, runner, store)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	assert.Len(t, job.ID, 8)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, models.StageCompleted, final.Stage)
	require.NotNil(t, final.Result)
	assert.Equal(t, "queue stall", final.Result.ExecutiveSummary)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	result, err := m.Result(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, result.JobID)

	// Raw artifact bytes are dropped once the job is terminal.
	for _, f := range final.Files {
		assert.Nil(t, f.Content)
	}
}

func TestSubmitRejectsEmptySubmission(t *testing.T) {
	m := startManager(t, &fakeRunner{}, nil)

	_, err := m.Submit(context.Background(), nil)
	assert.ErrorContains(t, err, "at least one file")

	_, err = m.Submit(context.Background(), []models.InputFile{{Name: "empty.log"}})
	assert.ErrorContains(t, err, "empty")
}

func TestSubmitAssignsDefaultFileName(t *testing.T) {
	m := startManager(t, &fakeRunner{}, nil)

	job, err := m.Submit(context.Background(), []models.InputFile{{Content: []byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, "artifact-1", job.Files[0].Name)
}

func TestFailedJobExposesError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("embed batch: provider unavailable")}
	m := startManager(t, runner, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, models.StageFailed, final.Stage)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "provider unavailable")

	_, err = m.Result(job.ID)
	assert.ErrorContains(t, err, "provider unavailable")
}

func TestResultUnavailableWhileRunning(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan string, 1)}
	m := startManager(t, runner, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	<-runner.started

	_, err = m.Result(job.ID)
	assert.ErrorContains(t, err, "not available yet")

	close(runner.block)
	waitTerminal(t, m, job.ID)
}

func TestCancelRunningJob(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan string, 1)}
	m := startManager(t, runner, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	<-runner.started

	require.NoError(t, m.Cancel(context.Background(), job.ID))

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)

	snap := m.Stats()
	assert.Equal(t, int64(1), snap.JobsCancelled)
}

func TestCancelQueuedJob(t *testing.T) {
	// Single worker pinned on a blocking job keeps the second queued.
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan string, 2)}
	m := NewManager(runner, nil, nil, 1)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	first, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	<-runner.started

	second, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), second.ID))
	got, err := m.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "cancelled")

	close(runner.block)
	waitTerminal(t, m, first.ID)

	// The worker must skip the cancelled queued job.
	final, err := m.Get(second.ID)
	require.NoError(t, err)
	assert.Nil(t, final.StartedAt)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	m := startManager(t, &fakeRunner{}, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	waitTerminal(t, m, job.ID)

	err = m.Cancel(context.Background(), job.ID)
	assert.ErrorContains(t, err, "already completed")
}

func TestCancelUnknownJob(t *testing.T) {
	m := startManager(t, &fakeRunner{}, nil)
	assert.ErrorIs(t, m.Cancel(context.Background(), "nope1234"), ErrJobNotFound)
}

func TestListNewestFirst(t *testing.T) {
	m := startManager(t, &fakeRunner{}, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit(context.Background(), sampleFiles())
		require.NoError(t, err)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	jobs := m.List()
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[2].ID)
}

func TestEventsSinceCursor(t *testing.T) {
	m := startManager(t, &fakeRunner{}, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	waitTerminal(t, m, job.ID)

	all, err := m.EventsSince(job.ID, -1)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	tail, err := m.EventsSince(job.ID, all[0].Seq)
	require.NoError(t, err)
	assert.Len(t, tail, len(all)-1)
}

func TestPersistenceOmitsContentAndEvents(t *testing.T) {
	store := newFakeJobStore()
	m := startManager(t, &fakeRunner{}, store)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	waitTerminal(t, m, job.ID)

	history := store.history(job.ID)
	require.NotEmpty(t, history)
	for _, snap := range history {
		assert.Nil(t, snap.Events)
	}
	last := history[len(history)-1]
	assert.Equal(t, models.JobStatusCompleted, last.Status)

	// Events travel through the sink, not the job record.
	store.mu.Lock()
	events := len(store.events)
	store.mu.Unlock()
	assert.NotZero(t, events)
}

func TestRestoreSurvivesRestart(t *testing.T) {
	store := newFakeJobStore()
	m := startManager(t, &fakeRunner{result: models.AnalysisResult{ExecutiveSummary: "done"}}, store)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	waitTerminal(t, m, job.ID)
	m.Stop()

	// A fresh manager over the same store sees the finished job and
	// its event history.
	m2 := NewManager(&fakeRunner{}, store, nil, 1)
	require.NoError(t, m2.Start(context.Background()))
	defer m2.Stop()

	restored, err := m2.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, restored.Status)
	require.NotNil(t, restored.Result)
	assert.Equal(t, "done", restored.Result.ExecutiveSummary)

	events, err := m2.EventsSince(job.ID, -1)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestGetConcurrentWithStageTransitions(t *testing.T) {
	m := startManager(t, &stageWalkingRunner{}, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)

	// Hammer snapshots while the runner advances through every stage.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			got, err := m.Get(job.ID)
			if err != nil || got.Status.Terminal() {
				return
			}
		}
	}()

	final := waitTerminal(t, m, job.ID)
	<-done
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, models.StageCompleted, final.Stage)
}

func TestStageVisibleWhileRunning(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan string, 1)}
	m := startManager(t, runner, nil)

	job, err := m.Submit(context.Background(), sampleFiles())
	require.NoError(t, err)
	<-runner.started

	// The runner emits the classification start before blocking; the
	// event sink must surface that stage in snapshots.
	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Stage == models.StageClassification
	}, time.Second, 5*time.Millisecond)

	close(runner.block)
	waitTerminal(t, m, job.ID)
}

func TestConcurrentSubmissions(t *testing.T) {
	runner := &fakeRunner{delay: time.Millisecond}
	m := startManager(t, runner, nil)

	var wg sync.WaitGroup
	ids := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := m.Submit(context.Background(), sampleFiles())
			if err != nil {
				t.Error(err)
				return
			}
			ids <- job.ID
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		final := waitTerminal(t, m, id)
		assert.Equal(t, models.JobStatusCompleted, final.Status)
		require.NotNil(t, final.Result)
		assert.Equal(t, id, final.Result.JobID)
	}
	assert.Equal(t, 16, runner.callCount())

	snap := m.Stats()
	assert.Equal(t, int64(16), snap.JobsSubmitted)
	assert.Equal(t, int64(16), snap.JobsCompleted)
}
