package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/pipeline"
)

const analysisSystemPrompt = `You are a senior automation reliability engineer reviewing redacted operational artifacts (logs, screenshots transcripts, exports) from a failed automation run.
Assess the incident and respond with ONLY a JSON object, no prose, matching this shape:
{
  "severity": "low" | "medium" | "high" | "critical",
  "executive_summary": "two or three sentences for an operations lead",
  "findings": [{"title": "...", "detail": "...", "evidence": "verbatim artifact excerpt"}],
  "recommended_actions": {"high_priority": ["..."], "standard": ["..."]}
}
Ground every finding in the artifacts. The artifacts have been redacted; placeholders like [REDACTED_EMAIL] are expected and must never be flagged as anomalies.`

// Generator is the subset of Model the analyzer needs.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Analyzer turns artifact content into a structured incident
// assessment via the configured LLM.
type Analyzer struct {
	model Generator
}

// NewAnalyzer creates an analyzer on top of a generation model.
func NewAnalyzer(model Generator) *Analyzer {
	return &Analyzer{model: model}
}

// Analyze produces severity, summary, findings and actions for the
// redacted artifact content.
func (a *Analyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	raw, err := a.model.GenerateWithSystem(ctx, analysisSystemPrompt, buildUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("analysis generation: %w", err)
	}
	return parseAnalysis(raw)
}

func buildUserPrompt(req models.AnalysisRequest) string {
	var sb strings.Builder

	if req.PlatformDetection != nil && req.PlatformDetection.Platform != nil {
		fmt.Fprintf(&sb, "Detected automation platform: %s (confidence %.2f)\n",
			*req.PlatformDetection.Platform, req.PlatformDetection.Confidence)
		for _, e := range req.PlatformDetection.ExtractedEntities {
			fmt.Fprintf(&sb, "  %s: %s\n", e.Key, e.Value)
		}
		sb.WriteString("\n")
	}

	if len(req.RelatedIncidents) > 0 {
		sb.WriteString("Similar past incidents:\n")
		for _, ri := range req.RelatedIncidents {
			fmt.Fprintf(&sb, "- (similarity %.2f) %s\n", ri.Similarity, ri.Fingerprint.Summary)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Artifacts:\n")
	sb.WriteString(req.RedactedContent)
	sb.WriteString("\n\nJSON assessment:")
	return sb.String()
}

// analysisPayload mirrors the JSON shape requested from the model.
type analysisPayload struct {
	Severity           string           `json:"severity"`
	ExecutiveSummary   string           `json:"executive_summary"`
	Findings           []models.Finding `json:"findings"`
	RecommendedActions struct {
		HighPriority []string `json:"high_priority"`
		Standard     []string `json:"standard"`
	} `json:"recommended_actions"`
}

// parseAnalysis extracts and validates the model's JSON assessment.
// Models wrap output in code fences or preamble often enough that the
// parser hunts for the outermost object instead of trusting the raw
// response.
func parseAnalysis(raw string) (*models.AnalysisResult, error) {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, &pipeline.ValidationError{Reason: fmt.Sprintf("parse analysis response: %v", err)}
	}
	if payload.ExecutiveSummary == "" {
		return nil, &pipeline.ValidationError{Reason: "analysis response missing executive summary"}
	}

	return &models.AnalysisResult{
		Severity:         normalizeSeverity(payload.Severity),
		ExecutiveSummary: payload.ExecutiveSummary,
		Findings:         payload.Findings,
		RecommendedActions: models.RecommendedActions{
			HighPriority: payload.RecommendedActions.HighPriority,
			Standard:     payload.RecommendedActions.Standard,
		},
	}, nil
}

// extractJSON returns the first balanced top-level JSON object in text.
func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", &pipeline.ValidationError{Reason: "no JSON object in analysis response"}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", &pipeline.ValidationError{Reason: "unbalanced JSON object in analysis response"}
}

func normalizeSeverity(s string) models.Severity {
	switch models.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SeverityLow:
		return models.SeverityLow
	case models.SeverityHigh:
		return models.SeverityHigh
	case models.SeverityCritical:
		return models.SeverityCritical
	default:
		return models.SeverityMedium
	}
}
