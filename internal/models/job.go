// Package models defines data structures for the Opsight analysis pipeline.
package models

import (
	"time"
)

// JobStatus represents the overall state of an analysis job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// InputFile is a single artifact submitted for analysis.
type InputFile struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// Job is one analysis request. It is mutated only by the pipeline
// orchestrator that owns it; once completed or failed it is immutable.
type Job struct {
	ID          string          `json:"id"`
	Files       []InputFile     `json:"files"`
	Stage       Stage           `json:"stage"`
	Status      JobStatus       `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Events      []ProgressEvent `json:"events,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// EventStatus marks the position of a ProgressEvent relative to its stage.
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// ProgressEvent is an immutable, append-only record of pipeline progress.
// Seq is assigned per job and grows monotonically so a disconnected
// consumer can resume from its last-seen event.
type ProgressEvent struct {
	Seq       int            `json:"seq"`
	JobID     string         `json:"job_id"`
	Stage     Stage          `json:"stage"`
	Status    EventStatus    `json:"status"`
	Label     string         `json:"label"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Progress returns the overall progress percent carried in the event
// details, or -1 if the event carries none.
func (e ProgressEvent) Progress() float64 {
	if e.Details == nil {
		return -1
	}
	switch v := e.Details["progress"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return -1
}
