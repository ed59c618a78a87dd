package models

import "time"

// RedactionResult reports what the redaction engine removed from one
// unit of input text.
type RedactionResult struct {
	RedactedText       string         `json:"redacted_text"`
	Replacements       map[string]int `json:"replacements"`
	PassesExecuted     int            `json:"passes_executed"`
	ValidationPassed   bool           `json:"validation_passed"`
	ValidationWarnings []string       `json:"validation_warnings,omitempty"`
}

// TotalReplacements sums replacement counts across all categories.
func (r RedactionResult) TotalReplacements() int {
	total := 0
	for _, n := range r.Replacements {
		total += n
	}
	return total
}

// DetectionMethod records which inputs contributed to a platform match.
type DetectionMethod string

const (
	DetectionByContent  DetectionMethod = "content"
	DetectionByFilename DetectionMethod = "filename"
	DetectionCombined   DetectionMethod = "combined"
)

// ExtractedEntity is a named value captured by a winning signature regex.
type ExtractedEntity struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PlatformDetectionResult is the platform detector's verdict for a job.
// Platform is nil when no signature scored above its threshold.
type PlatformDetectionResult struct {
	Platform          *string           `json:"platform"`
	Confidence        float64           `json:"confidence"`
	DetectionMethod   DetectionMethod   `json:"detection_method"`
	ExtractedEntities []ExtractedEntity `json:"extracted_entities,omitempty"`
}

// ExtractedFile is one file recovered from an archive, addressed by a
// virtual path relative to the extraction root.
type ExtractedFile struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// ArchiveExtractionResult is the all-or-nothing outcome of unpacking an
// archive. When Rejected is true no files are returned.
type ArchiveExtractionResult struct {
	ExtractedFiles        []ExtractedFile `json:"extracted_files,omitempty"`
	Rejected              bool            `json:"rejected"`
	RejectionReason       string          `json:"rejection_reason,omitempty"`
	EnhancedExtractorUsed bool            `json:"enhanced_extractor_used"`
}

// IncidentFingerprint is the stored semantic representation of a past
// incident. Immutable once written; queried by similarity only.
type IncidentFingerprint struct {
	ID          string    `json:"id,omitempty"`
	Embedding   []float32 `json:"embedding"`
	SourceJobID string    `json:"source_job_id"`
	Platform    *string   `json:"platform,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RelatedIncident pairs a fingerprint match with its cosine similarity.
type RelatedIncident struct {
	Fingerprint IncidentFingerprint `json:"fingerprint"`
	Similarity  float64             `json:"similarity"`
}

// Severity grades the impact assessed by the analyzer.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is a single observation in the root-cause report.
type Finding struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Evidence string `json:"evidence,omitempty"`
}

// RecommendedActions splits remediation steps by urgency.
type RecommendedActions struct {
	HighPriority []string `json:"high_priority,omitempty"`
	Standard     []string `json:"standard,omitempty"`
}

// RedactionSummary aggregates redaction results across all job files.
type RedactionSummary struct {
	TotalReplacements  int            `json:"total_replacements"`
	ByCategory         map[string]int `json:"by_category,omitempty"`
	ValidationPassed   bool           `json:"validation_passed"`
	ValidationWarnings []string       `json:"validation_warnings,omitempty"`
}

// Timeline records when the job moved through its lifecycle.
type Timeline struct {
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// AnalysisRequest carries everything the analyzer may ground its
// assessment on. Content is always post-redaction.
type AnalysisRequest struct {
	RedactedContent   string                   `json:"redacted_content"`
	PlatformDetection *PlatformDetectionResult `json:"platform_detection,omitempty"`
	RelatedIncidents  []RelatedIncident        `json:"related_incidents,omitempty"`
}

// AnalysisResult is the terminal artifact of a completed job.
type AnalysisResult struct {
	JobID              string                   `json:"job_id"`
	Severity           Severity                 `json:"severity"`
	ExecutiveSummary   string                   `json:"executive_summary"`
	Findings           []Finding                `json:"findings"`
	RecommendedActions RecommendedActions       `json:"recommended_actions"`
	PlatformDetection  *PlatformDetectionResult `json:"platform_detection,omitempty"`
	RedactionSummary   RedactionSummary         `json:"redaction_summary"`
	RelatedIncidents   []RelatedIncident        `json:"related_incidents"`
	Timeline           Timeline                 `json:"timeline"`
}
