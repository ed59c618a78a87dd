// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	JobsSubmitted int64 `json:"jobs_submitted"`
	JobsCompleted int64 `json:"jobs_completed"`
	JobsFailed    int64 `json:"jobs_failed"`
	JobsCancelled int64 `json:"jobs_cancelled"`

	Redaction   *OperationSnapshot `json:"redaction,omitempty"`
	Extraction  *OperationSnapshot `json:"extraction,omitempty"`
	Embedding   *OperationSnapshot `json:"embedding,omitempty"`
	Analysis    *OperationSnapshot `json:"analysis,omitempty"`
	Correlation *OperationSnapshot `json:"correlation,omitempty"`
	DBQuery     *OperationSnapshot `json:"db_query,omitempty"`
}

// Operation names for the collector.
const (
	OpRedaction   = "redaction"
	OpExtraction  = "extraction"
	OpEmbedding   = "embedding"
	OpAnalysis    = "analysis"
	OpCorrelation = "correlation"
	OpDBQuery     = "db_query"
)

// Job outcome counters.
const (
	JobSubmitted = "submitted"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	jobs      map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		jobs:      make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an
// operation. Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Time runs fn and records its duration under op.
func (c *Collector) Time(op string, fn func()) {
	start := time.Now()
	fn()
	c.RecordTiming(op, time.Since(start))
}

// RecordJob increments a job outcome counter.
func (c *Collector) RecordJob(outcome string) {
	c.mu.Lock()
	c.jobs[outcome]++
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		JobsSubmitted: c.jobs[JobSubmitted],
		JobsCompleted: c.jobs[JobCompleted],
		JobsFailed:    c.jobs[JobFailed],
		JobsCancelled: c.jobs[JobCancelled],
		Redaction:     snapshotOp(c.ops[OpRedaction]),
		Extraction:    snapshotOp(c.ops[OpExtraction]),
		Embedding:     snapshotOp(c.ops[OpEmbedding]),
		Analysis:      snapshotOp(c.ops[OpAnalysis]),
		Correlation:   snapshotOp(c.ops[OpCorrelation]),
		DBQuery:       snapshotOp(c.ops[OpDBQuery]),
	}
}
