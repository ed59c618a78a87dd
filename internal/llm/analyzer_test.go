package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/pipeline"
)

type fakeGenerator struct {
	response string
	err      error
	lastUser string
}

func (f *fakeGenerator) GenerateWithSystem(_ context.Context, _, userPrompt string) (string, error) {
	f.lastUser = userPrompt
	return f.response, f.err
}

const sampleResponse = `{
  "severity": "high",
  "executive_summary": "The robot lost its session mid-run.",
  "findings": [{"title": "Session timeout", "detail": "Queue item retried 3 times", "evidence": "Work Queue 'Invoices' paused"}],
  "recommended_actions": {"high_priority": ["Increase session timeout"], "standard": ["Review retry policy"]}
}`

func TestAnalyze(t *testing.T) {
	gen := &fakeGenerator{response: sampleResponse}
	analyzer := NewAnalyzer(gen)

	result, err := analyzer.Analyze(context.Background(), models.AnalysisRequest{
		RedactedContent: "Work Queue 'Invoices' paused after [REDACTED_EMAIL] login failure",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SeverityHigh, result.Severity)
	assert.Equal(t, "The robot lost its session mid-run.", result.ExecutiveSummary)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "Session timeout", result.Findings[0].Title)
	assert.Equal(t, []string{"Increase session timeout"}, result.RecommendedActions.HighPriority)
}

func TestAnalyzePromptIncludesContext(t *testing.T) {
	gen := &fakeGenerator{response: sampleResponse}
	analyzer := NewAnalyzer(gen)

	platform := "uipath"
	_, err := analyzer.Analyze(context.Background(), models.AnalysisRequest{
		RedactedContent: "Robot Executor fault",
		PlatformDetection: &models.PlatformDetectionResult{
			Platform:   &platform,
			Confidence: 0.8,
		},
		RelatedIncidents: []models.RelatedIncident{
			{Fingerprint: models.IncidentFingerprint{Summary: "Executor crash after update"}, Similarity: 0.91},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, gen.lastUser, "uipath")
	assert.Contains(t, gen.lastUser, "Executor crash after update")
	assert.Contains(t, gen.lastUser, "Robot Executor fault")
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	gen := &fakeGenerator{response: "Here is the assessment:\n```json\n" + sampleResponse + "\n```"}
	analyzer := NewAnalyzer(gen)

	result, err := analyzer.Analyze(context.Background(), models.AnalysisRequest{RedactedContent: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, result.Severity)
}

func TestAnalyzeUnknownSeverityDefaultsMedium(t *testing.T) {
	gen := &fakeGenerator{response: strings.Replace(sampleResponse, `"high"`, `"catastrophic"`, 1)}
	analyzer := NewAnalyzer(gen)

	result, err := analyzer.Analyze(context.Background(), models.AnalysisRequest{RedactedContent: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, result.Severity)
}

func TestAnalyzeRejectsNonJSON(t *testing.T) {
	gen := &fakeGenerator{response: "I could not assess this incident."}
	analyzer := NewAnalyzer(gen)

	_, err := analyzer.Analyze(context.Background(), models.AnalysisRequest{RedactedContent: "x"})
	require.Error(t, err)

	var ve *pipeline.ValidationError
	assert.True(t, errors.As(err, &ve), "prose-only response must be a validation error, got %v", err)
}

func TestAnalyzeRejectsMissingSummary(t *testing.T) {
	gen := &fakeGenerator{response: `{"severity": "low"}`}
	analyzer := NewAnalyzer(gen)

	_, err := analyzer.Analyze(context.Background(), models.AnalysisRequest{RedactedContent: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executive summary")

	var ve *pipeline.ValidationError
	assert.True(t, errors.As(err, &ve), "missing summary must be a validation error, got %v", err)
}
