// Package service owns job lifecycle: submission, queueing, execution
// through the pipeline, progress access and cancellation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/opsight-go/internal/metrics"
	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/pipeline"
)

// queueCapacity bounds pending submissions.
const queueCapacity = 256

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Runner executes one job through the pipeline.
type Runner interface {
	Run(ctx context.Context, job *models.Job, emit *pipeline.Emitter) (*models.AnalysisResult, error)
}

// JobStore persists job state and progress events. All methods must be
// safe for concurrent use.
type JobStore interface {
	UpsertJob(ctx context.Context, job models.Job) error
	AppendEvent(ctx context.Context, ev models.ProgressEvent) error
	MarkInterruptedJobs(ctx context.Context) (int, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
	EventsSince(ctx context.Context, jobID string, afterSeq int) ([]models.ProgressEvent, error)
}

// jobState couples a job with its live emitter and cancel handle.
// restoredEvents holds the persisted event history of jobs loaded from
// the store at startup; jobs run by this process use the emitter log.
type jobState struct {
	mu             sync.RWMutex
	job            *models.Job
	emitter        *pipeline.Emitter
	cancel         context.CancelFunc
	restoredEvents []models.ProgressEvent
}

// setStage records the stage a running job is in. Terminal jobs keep
// their final stage.
func (s *jobState) setStage(stage models.Stage) {
	s.mu.Lock()
	if !s.job.Status.Terminal() {
		s.job.Stage = stage
	}
	s.mu.Unlock()
}

// stageSink mirrors stage transitions from the event stream into the
// tracked job and forwards events to the persistent store. The runner
// works on a private job copy, so this is the only path by which live
// stage changes reach snapshots.
type stageSink struct {
	state *jobState
	next  pipeline.EventSink
}

func (s *stageSink) AppendEvent(ctx context.Context, ev models.ProgressEvent) error {
	if ev.Status == models.EventStarted {
		s.state.setStage(ev.Stage)
	}
	if s.next == nil {
		return nil
	}
	return s.next.AppendEvent(ctx, ev)
}

// Manager tracks jobs and drives them through the pipeline with a
// fixed worker pool.
type Manager struct {
	runner  Runner
	store   JobStore
	metrics *metrics.Collector
	workers int

	mu    sync.RWMutex
	jobs  map[string]*jobState
	queue chan string

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a job manager. store may be nil for ephemeral
// operation.
func NewManager(runner Runner, store JobStore, collector *metrics.Collector, workers int) *Manager {
	if workers <= 0 {
		workers = 4
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Manager{
		runner:  runner,
		store:   store,
		metrics: collector,
		workers: workers,
		jobs:    make(map[string]*jobState),
		queue:   make(chan string, queueCapacity),
	}
}

// Start fails over jobs left running by a previous process and spawns
// the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	if m.store != nil {
		n, err := m.store.MarkInterruptedJobs(ctx)
		if err != nil {
			return fmt.Errorf("fail over interrupted jobs: %w", err)
		}
		if n > 0 {
			slog.Warn("marked interrupted jobs as failed", "count", n)
		}
		if err := m.restoreJobs(ctx); err != nil {
			return fmt.Errorf("restore persisted jobs: %w", err)
		}
	}

	m.ctx, m.stop = context.WithCancel(ctx)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	slog.Info("job manager started", "workers", m.workers)
	return nil
}

// restoreJobs loads persisted jobs so history survives restarts. All
// restored jobs are terminal after the interrupted fail-over.
func (m *Manager) restoreJobs(ctx context.Context) error {
	jobs, err := m.store.ListJobs(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range jobs {
		job := jobs[i]
		events, err := m.store.EventsSince(ctx, job.ID, -1)
		if err != nil {
			slog.Warn("load persisted events failed", "job_id", job.ID, "error", err)
		}
		m.jobs[job.ID] = &jobState{
			job:            &job,
			emitter:        pipeline.NewEmitter(job.ID, nil),
			restoredEvents: events,
		}
	}
	if len(jobs) > 0 {
		slog.Info("restored persisted jobs", "count", len(jobs))
	}
	return nil
}

// Stop cancels all running jobs and waits for workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.stop != nil {
		m.stop()
	}
	m.wg.Wait()
	slog.Info("job manager stopped")
}

// Submit validates and enqueues a new job.
func (m *Manager) Submit(ctx context.Context, files []models.InputFile) (models.Job, error) {
	if len(files) == 0 {
		return models.Job{}, errors.New("submission requires at least one file")
	}
	for i := range files {
		if len(files[i].Content) == 0 {
			return models.Job{}, fmt.Errorf("file %q is empty", files[i].Name)
		}
		if files[i].Name == "" {
			files[i].Name = fmt.Sprintf("artifact-%d", i+1)
		}
	}

	job := &models.Job{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		Files:     files,
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	var next pipeline.EventSink
	if m.store != nil {
		next = m.store
	}
	state := &jobState{job: job}
	state.emitter = pipeline.NewEmitter(job.ID, &stageSink{state: state, next: next})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.Job{}, errors.New("manager is shutting down")
	}
	m.jobs[job.ID] = state
	m.mu.Unlock()

	m.persist(ctx, state)

	select {
	case m.queue <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return models.Job{}, errors.New("job queue is full")
	}

	m.metrics.RecordJob(metrics.JobSubmitted)
	slog.Info("job submitted", "job_id", job.ID, "files", len(files))
	return state.snapshot(), nil
}

// Get returns a snapshot of a job.
func (m *Manager) Get(id string) (models.Job, error) {
	state := m.state(id)
	if state == nil {
		return models.Job{}, ErrJobNotFound
	}
	return state.snapshot(), nil
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []models.Job {
	m.mu.RLock()
	states := make([]*jobState, 0, len(m.jobs))
	for _, s := range m.jobs {
		states = append(states, s)
	}
	m.mu.RUnlock()

	jobs := make([]models.Job, len(states))
	for i, s := range states {
		jobs[i] = s.snapshot()
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Result returns the analysis result of a completed job.
func (m *Manager) Result(id string) (*models.AnalysisResult, error) {
	state := m.state(id)
	if state == nil {
		return nil, ErrJobNotFound
	}

	snap := state.snapshot()
	switch snap.Status {
	case models.JobStatusCompleted:
		return snap.Result, nil
	case models.JobStatusFailed:
		msg := "job failed"
		if snap.Error != nil {
			msg = *snap.Error
		}
		return nil, errors.New(msg)
	default:
		return nil, fmt.Errorf("job %s is %s, result not available yet", id, snap.Status)
	}
}

// EventsSince returns a job's progress events with Seq > after.
func (m *Manager) EventsSince(id string, after int) ([]models.ProgressEvent, error) {
	state := m.state(id)
	if state == nil {
		return nil, ErrJobNotFound
	}
	return state.eventsSince(after), nil
}

// Cancel requests cooperative cancellation. Queued jobs fail
// immediately; running jobs fail at the next stage boundary.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	state := m.state(id)
	if state == nil {
		return ErrJobNotFound
	}

	state.mu.Lock()
	status := state.job.Status
	if status.Terminal() {
		state.mu.Unlock()
		return fmt.Errorf("job %s already %s", id, status)
	}
	if status == models.JobStatusQueued {
		now := time.Now().UTC()
		msg := "cancelled before start"
		state.job.Status = models.JobStatusFailed
		state.job.Stage = models.StageFailed
		state.job.Error = &msg
		state.job.CompletedAt = &now
		state.mu.Unlock()

		m.metrics.RecordJob(metrics.JobCancelled)
		m.persist(ctx, state)
		state.emitter.Close()
		slog.Info("job cancelled while queued", "job_id", id)
		return nil
	}
	cancel := state.cancel
	state.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	slog.Info("job cancellation requested", "job_id", id)
	return nil
}

// Stats exposes the metrics snapshot.
func (m *Manager) Stats() metrics.Snapshot {
	return m.metrics.Snapshot()
}

func (m *Manager) state(id string) *jobState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.queue:
			m.runJob(id)
		}
	}
}

func (m *Manager) runJob(id string) {
	state := m.state(id)
	if state == nil {
		return
	}

	state.mu.Lock()
	if state.job.Status != models.JobStatusQueued {
		state.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	state.job.Status = models.JobStatusRunning
	state.job.StartedAt = &now
	jobCtx, cancel := context.WithCancel(m.ctx)
	state.cancel = cancel
	// The runner mutates its job as stages advance; it gets a private
	// copy so those writes never touch the tracked job outside the
	// lock. Live stage changes come back through the emitter sink.
	runCopy := *state.job
	runCopy.Files = make([]models.InputFile, len(state.job.Files))
	copy(runCopy.Files, state.job.Files)
	state.mu.Unlock()
	defer cancel()

	m.persist(m.ctx, state)
	slog.Info("job started", "job_id", id)

	result, err := m.runner.Run(jobCtx, &runCopy, state.emitter)

	state.mu.Lock()
	done := time.Now().UTC()
	state.job.CompletedAt = &done
	if err != nil {
		msg := err.Error()
		state.job.Status = models.JobStatusFailed
		state.job.Stage = models.StageFailed
		state.job.Error = &msg
	} else {
		state.job.Status = models.JobStatusCompleted
		state.job.Stage = models.StageCompleted
		state.job.Result = result
	}
	// Raw artifact content is no longer needed once the job is
	// terminal; drop it so completed jobs hold no sensitive bytes.
	for i := range state.job.Files {
		state.job.Files[i].Content = nil
	}
	state.mu.Unlock()

	switch {
	case err == nil:
		m.metrics.RecordJob(metrics.JobCompleted)
		slog.Info("job completed", "job_id", id)
	case errors.Is(err, context.Canceled):
		m.metrics.RecordJob(metrics.JobCancelled)
		slog.Info("job cancelled", "job_id", id)
	default:
		m.metrics.RecordJob(metrics.JobFailed)
		slog.Warn("job failed", "job_id", id, "error", err)
	}

	m.persist(m.ctx, state)
	state.emitter.Close()
}

// persist writes the job snapshot to the store, logging on failure.
// Persistence is best effort; the in-memory state is authoritative for
// the life of the process.
func (m *Manager) persist(ctx context.Context, state *jobState) {
	if m.store == nil {
		return
	}
	snap := state.snapshot()
	snap.Events = nil
	if err := m.store.UpsertJob(ctx, snap); err != nil {
		slog.Warn("persist job failed", "job_id", snap.ID, "error", err)
	}
}

// snapshot returns a copy of the job with its event log attached.
func (s *jobState) snapshot() models.Job {
	s.mu.RLock()
	job := *s.job
	files := make([]models.InputFile, len(s.job.Files))
	copy(files, s.job.Files)
	job.Files = files
	s.mu.RUnlock()

	job.Events = s.eventsSince(-1)
	return job
}

// eventsSince prefers the live emitter log and falls back to the
// persisted history for jobs restored from the store.
func (s *jobState) eventsSince(after int) []models.ProgressEvent {
	if evs := s.emitter.Log(); len(evs) > 0 {
		return s.emitter.EventsSince(after)
	}

	var out []models.ProgressEvent
	for _, ev := range s.restoredEvents {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}
