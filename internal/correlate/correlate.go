// Package correlate finds past incidents semantically similar to the
// one under analysis.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// ErrDimensionMismatch indicates the query embedding does not match the
// configured fingerprint dimension. This is a configuration error, not
// a transient store failure.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// FingerprintStore is the persistence surface the correlator queries.
type FingerprintStore interface {
	NearestFingerprints(ctx context.Context, embedding []float32, platform *string, excludeJobID string, limit int) ([]models.RelatedIncident, error)
}

// Config tunes correlation behavior.
type Config struct {
	// Limit is the maximum number of related incidents returned.
	Limit int
	// MinSimilarity drops matches below this cosine similarity.
	MinSimilarity float64
	// Dimension is the expected embedding dimension.
	Dimension int
}

// Correlator ranks stored incident fingerprints against a query
// embedding.
type Correlator struct {
	store FingerprintStore
	cfg   Config
}

// New creates a correlator over the given fingerprint store.
func New(store FingerprintStore, cfg Config) *Correlator {
	return &Correlator{store: store, cfg: cfg}
}

// FindRelated returns up to Limit past incidents whose fingerprints
// are at least MinSimilarity close to the query embedding, most
// similar first. An empty result is a normal outcome for a store with
// no comparable history.
func (c *Correlator) FindRelated(
	ctx context.Context,
	embedding []float32,
	platform *string,
	excludeJobID string,
) ([]models.RelatedIncident, error) {
	if len(embedding) != c.cfg.Dimension {
		return nil, fmt.Errorf("query embedding has dimension %d, want %d: %w", len(embedding), c.cfg.Dimension, ErrDimensionMismatch)
	}

	candidates, err := c.store.NearestFingerprints(ctx, embedding, platform, excludeJobID, c.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}

	related := make([]models.RelatedIncident, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Similarity < c.cfg.MinSimilarity {
			continue
		}
		related = append(related, cand)
		if len(related) == c.cfg.Limit {
			break
		}
	}

	slog.Debug("correlation complete",
		"candidates", len(candidates),
		"related", len(related),
		"min_similarity", c.cfg.MinSimilarity)
	return related, nil
}
