package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// eventBuffer bounds the live event channel. A slow consumer loses the
// oldest buffered events; the persisted log stays complete and can be
// replayed by cursor.
const eventBuffer = 256

// stageSpans maps each stage onto its slice of overall progress.
// Redaction and analysis dominate wall-clock time and get the widest
// spans.
var stageSpans = map[models.Stage][2]float64{
	models.StageClassification: {0, 5},
	models.StageExtraction:     {5, 10},
	models.StageRedaction:      {10, 40},
	models.StageChunking:       {40, 50},
	models.StageEmbedding:      {50, 60},
	models.StageStorage:        {60, 70},
	models.StageCorrelation:    {70, 75},
	models.StageAnalysis:       {75, 90},
	models.StageReport:         {90, 100},
}

// progressAt converts a within-stage fraction to overall percent.
func progressAt(stage models.Stage, frac float64) float64 {
	span, ok := stageSpans[stage]
	if !ok {
		return 100
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return span[0] + frac*(span[1]-span[0])
}

// EventSink persists progress events.
type EventSink interface {
	AppendEvent(ctx context.Context, ev models.ProgressEvent) error
}

// Emitter assigns sequence numbers and fans progress events out to a
// bounded live channel, an in-memory log, and an optional persistent
// sink. Safe for concurrent use.
type Emitter struct {
	jobID string
	sink  EventSink

	mu     sync.Mutex
	seq    int
	log    []models.ProgressEvent
	ch     chan models.ProgressEvent
	closed bool
}

// NewEmitter creates an emitter for one job. sink may be nil.
func NewEmitter(jobID string, sink EventSink) *Emitter {
	return &Emitter{
		jobID: jobID,
		sink:  sink,
		ch:    make(chan models.ProgressEvent, eventBuffer),
	}
}

// Emit records one event. Sequence numbers grow monotonically from 0.
func (e *Emitter) Emit(ctx context.Context, stage models.Stage, status models.EventStatus, message string, details map[string]any) models.ProgressEvent {
	e.mu.Lock()
	ev := models.ProgressEvent{
		Seq:       e.seq,
		JobID:     e.jobID,
		Stage:     stage,
		Status:    status,
		Label:     stage.Label(),
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	e.seq++
	e.log = append(e.log, ev)

	if !e.closed {
		select {
		case e.ch <- ev:
		default:
			// Full buffer: drop the oldest event to make room. Live
			// consumers see a gap; the log does not.
			select {
			case <-e.ch:
			default:
			}
			select {
			case e.ch <- ev:
			default:
			}
		}
	}
	e.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.AppendEvent(ctx, ev); err != nil {
			slog.Warn("persist progress event failed", "job_id", e.jobID, "seq", ev.Seq, "error", err)
		}
	}
	return ev
}

// StageStarted emits the started event for a stage.
func (e *Emitter) StageStarted(ctx context.Context, stage models.Stage) {
	e.Emit(ctx, stage, models.EventStarted, "", map[string]any{
		"progress": progressAt(stage, 0),
	})
}

// StageCompleted emits the completed event for a stage, merging extra
// details into the progress payload.
func (e *Emitter) StageCompleted(ctx context.Context, stage models.Stage, details map[string]any) {
	merged := map[string]any{"progress": progressAt(stage, 1)}
	for k, v := range details {
		merged[k] = v
	}
	e.Emit(ctx, stage, models.EventCompleted, "", merged)
}

// StageFailed emits the failed event for a stage, merging extra
// details into the progress payload.
func (e *Emitter) StageFailed(ctx context.Context, stage models.Stage, err error, details map[string]any) {
	merged := map[string]any{"progress": progressAt(stage, 0)}
	for k, v := range details {
		merged[k] = v
	}
	e.Emit(ctx, stage, models.EventFailed, err.Error(), merged)
}

// Events returns the live event channel.
func (e *Emitter) Events() <-chan models.ProgressEvent {
	return e.ch
}

// EventsSince returns a copy of logged events with Seq > after.
func (e *Emitter) EventsSince(after int) []models.ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.ProgressEvent
	for _, ev := range e.log {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// Log returns a copy of the full in-memory event log.
func (e *Emitter) Log() []models.ProgressEvent {
	return e.EventsSince(-1)
}

// Close closes the live channel. Subsequent Emit calls still append to
// the log but are not delivered live.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
