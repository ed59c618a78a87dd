// Package pipeline runs submitted artifacts through classification,
// extraction, redaction, embedding, correlation and analysis, emitting
// progress events along the way.
package pipeline

import (
	"context"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Analyzer produces the structured incident assessment.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// Correlator finds semantically similar past incidents.
type Correlator interface {
	FindRelated(ctx context.Context, embedding []float32, platform *string, excludeJobID string) ([]models.RelatedIncident, error)
}

// Store is the persistence surface the pipeline writes to.
type Store interface {
	CreateDocument(ctx context.Context, doc models.Document) error
	CreateFingerprint(ctx context.Context, fp models.IncidentFingerprint) (string, error)
}

// TicketSink receives the finished report for downstream systems.
type TicketSink interface {
	FileTicket(ctx context.Context, jobID string, result *models.AnalysisResult) error
}
