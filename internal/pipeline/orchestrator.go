package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/raphaelgruber/opsight-go/internal/archive"
	"github.com/raphaelgruber/opsight-go/internal/chunk"
	"github.com/raphaelgruber/opsight-go/internal/correlate"
	"github.com/raphaelgruber/opsight-go/internal/metrics"
	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/platform"
	"github.com/raphaelgruber/opsight-go/internal/redact"
)

// maxAnalysisChars caps the redacted content handed to the analyzer.
const maxAnalysisChars = 32768

// Config tunes one orchestrator instance.
type Config struct {
	// FileFanout bounds concurrent per-file work within a stage.
	FileFanout int
	// ExternalTimeout is the per-attempt timeout for external calls.
	ExternalTimeout time.Duration
	// RetryAttempts is the total attempts for transient failures.
	RetryAttempts int

	ArchiveLimits archive.Limits
	ChunkConfig   chunk.Config
	RedactConfig  redact.Config

	CacheSize int
	CacheTTL  time.Duration

	// Metrics receives per-operation timings. Optional.
	Metrics *metrics.Collector
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FileFanout:      4,
		ExternalTimeout: 60 * time.Second,
		RetryAttempts:   3,
		ArchiveLimits:   archive.DefaultLimits(),
		ChunkConfig:     chunk.DefaultConfig(),
		RedactConfig:    redact.DefaultConfig(),
		CacheSize:       128,
		CacheTTL:        30 * time.Minute,
	}
}

// Orchestrator drives one job at a time through the pipeline stages.
// Stages run strictly forward; a job is processed at most once.
type Orchestrator struct {
	embedder   EmbeddingProvider
	analyzer   Analyzer
	correlator Correlator
	store      Store
	tickets    TicketSink
	cfg        Config
	cache      *resultCache
	metrics    *metrics.Collector
}

// New wires an orchestrator. correlator, store and tickets may be nil;
// the corresponding stages then degrade instead of failing.
func New(embedder EmbeddingProvider, analyzer Analyzer, correlator Correlator, store Store, tickets TicketSink, cfg Config) *Orchestrator {
	if cfg.FileFanout <= 0 {
		cfg.FileFanout = 4
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 60 * time.Second
	}
	return &Orchestrator{
		embedder:   embedder,
		analyzer:   analyzer,
		correlator: correlator,
		store:      store,
		tickets:    tickets,
		cfg:        cfg,
		cache:      newResultCache(cfg.CacheSize, cfg.CacheTTL),
		metrics:    cfg.Metrics,
	}
}

// timed records an operation duration when a collector is configured.
func (o *Orchestrator) timed(op string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordTiming(op, time.Since(start))
	}
}

// redactedFile pairs a virtual path with its post-redaction content.
type redactedFile struct {
	path    string
	content string
}

// Run executes the full pipeline for a job and returns its analysis
// result. Cancellation is honored at stage boundaries: work in flight
// finishes, then the job fails cleanly.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job, emit *Emitter) (*models.AnalysisResult, error) {
	started := time.Now().UTC()

	// Classification.
	if err := o.cancelled(ctx, job, emit, models.StageClassification); err != nil {
		return nil, err
	}
	job.Stage = models.StageClassification
	emit.StageStarted(ctx, models.StageClassification)
	detection := detectBest(job.Files)
	emit.StageCompleted(ctx, models.StageClassification, detectionDetails(detection))

	// Extraction.
	if err := o.cancelled(ctx, job, emit, models.StageExtraction); err != nil {
		return nil, err
	}
	job.Stage = models.StageExtraction
	emit.StageStarted(ctx, models.StageExtraction)
	extractStart := time.Now()
	files, enhancedUsed, err := o.extractAll(job.Files)
	o.timed(metrics.OpExtraction, extractStart)
	if err != nil {
		emit.StageFailed(ctx, models.StageExtraction, err, nil)
		return nil, stageErr(models.StageExtraction, err)
	}
	// Archives can hide the only platform-bearing artifacts. Retry
	// detection over the extracted set if the submitted files matched
	// nothing.
	if detection.Platform == nil {
		detection = detectBest(files)
	}
	emit.StageCompleted(ctx, models.StageExtraction, map[string]any{
		"files":                   len(files),
		"enhanced_extractor_used": enhancedUsed,
	})

	// Redaction.
	if err := o.cancelled(ctx, job, emit, models.StageRedaction); err != nil {
		return nil, err
	}
	job.Stage = models.StageRedaction
	emit.StageStarted(ctx, models.StageRedaction)
	redactStart := time.Now()
	redacted, summary := o.redactAll(ctx, files, emit)
	o.timed(metrics.OpRedaction, redactStart)
	redactionDetails := map[string]any{"replacements": summary.TotalReplacements}
	if !summary.ValidationPassed {
		redactionDetails["degraded"] = true
		redactionDetails["warnings"] = len(summary.ValidationWarnings)
	}
	emit.StageCompleted(ctx, models.StageRedaction, redactionDetails)

	// Chunking.
	if err := o.cancelled(ctx, job, emit, models.StageChunking); err != nil {
		return nil, err
	}
	job.Stage = models.StageChunking
	emit.StageStarted(ctx, models.StageChunking)
	docs := o.chunkAll(job.ID, redacted)
	if len(docs) == 0 {
		err := errors.New("no analyzable content in submitted artifacts")
		emit.StageFailed(ctx, models.StageChunking, err, nil)
		return nil, stageErr(models.StageChunking, err)
	}
	emit.StageCompleted(ctx, models.StageChunking, map[string]any{"chunks": len(docs)})

	// Embedding.
	if err := o.cancelled(ctx, job, emit, models.StageEmbedding); err != nil {
		return nil, err
	}
	job.Stage = models.StageEmbedding
	emit.StageStarted(ctx, models.StageEmbedding)
	embedStart := time.Now()
	jobEmbedding, embedAttempts, err := o.embedAll(ctx, docs)
	o.timed(metrics.OpEmbedding, embedStart)
	if err != nil {
		emit.StageFailed(ctx, models.StageEmbedding, err, map[string]any{"attempts": embedAttempts})
		return nil, stageErr(models.StageEmbedding, err)
	}
	emit.StageCompleted(ctx, models.StageEmbedding, map[string]any{"attempts": embedAttempts})

	// Storage.
	if err := o.cancelled(ctx, job, emit, models.StageStorage); err != nil {
		return nil, err
	}
	job.Stage = models.StageStorage
	emit.StageStarted(ctx, models.StageStorage)
	storageDetails := map[string]any{"documents": len(docs)}
	storeStart := time.Now()
	storeAttempts, err := o.storeDocuments(ctx, docs)
	if err != nil {
		slog.Warn("document storage degraded", "job_id", job.ID, "error", err)
		storageDetails["degraded"] = true
		storageDetails["error"] = err.Error()
	}
	storageDetails["attempts"] = storeAttempts
	o.timed(metrics.OpDBQuery, storeStart)
	emit.StageCompleted(ctx, models.StageStorage, storageDetails)

	// Correlation.
	if err := o.cancelled(ctx, job, emit, models.StageCorrelation); err != nil {
		return nil, err
	}
	job.Stage = models.StageCorrelation
	emit.StageStarted(ctx, models.StageCorrelation)
	corrStart := time.Now()
	related, corrDetails, corrErr := o.correlate(ctx, job.ID, jobEmbedding, detection.Platform)
	o.timed(metrics.OpCorrelation, corrStart)
	if corrErr != nil {
		// Misconfiguration fails the stage; the job still completes
		// without correlation context.
		emit.StageFailed(ctx, models.StageCorrelation, corrErr, nil)
	} else {
		emit.StageCompleted(ctx, models.StageCorrelation, corrDetails)
	}

	// Analysis.
	if err := o.cancelled(ctx, job, emit, models.StageAnalysis); err != nil {
		return nil, err
	}
	job.Stage = models.StageAnalysis
	emit.StageStarted(ctx, models.StageAnalysis)
	analysisStart := time.Now()
	result, cacheHit, analysisAttempts, err := o.analyze(ctx, redacted, &detection, related)
	o.timed(metrics.OpAnalysis, analysisStart)
	if err != nil {
		emit.StageFailed(ctx, models.StageAnalysis, err, map[string]any{"attempts": analysisAttempts})
		return nil, stageErr(models.StageAnalysis, err)
	}
	emit.StageCompleted(ctx, models.StageAnalysis, map[string]any{
		"cache_hit": cacheHit,
		"attempts":  analysisAttempts,
	})

	// Report.
	if err := o.cancelled(ctx, job, emit, models.StageReport); err != nil {
		return nil, err
	}
	job.Stage = models.StageReport
	emit.StageStarted(ctx, models.StageReport)

	result.JobID = job.ID
	result.PlatformDetection = &detection
	result.RedactionSummary = summary
	result.RelatedIncidents = related
	if result.RelatedIncidents == nil {
		result.RelatedIncidents = []models.RelatedIncident{}
	}
	now := time.Now().UTC()
	result.Timeline = models.Timeline{
		CreatedAt:   job.CreatedAt,
		StartedAt:   started,
		CompletedAt: now,
		Duration:    now.Sub(started),
	}

	reportDetails := map[string]any{}
	fpAttempts, err := o.storeFingerprint(ctx, job.ID, jobEmbedding, detection.Platform, result.ExecutiveSummary)
	if err != nil {
		slog.Warn("fingerprint storage degraded", "job_id", job.ID, "error", err)
		reportDetails["degraded"] = true
		reportDetails["error"] = err.Error()
	}
	if fpAttempts > 0 {
		reportDetails["attempts"] = fpAttempts
	}
	if o.tickets != nil {
		if err := o.tickets.FileTicket(ctx, job.ID, result); err != nil {
			slog.Warn("ticket filing degraded", "job_id", job.ID, "error", err)
			reportDetails["degraded"] = true
		}
	}
	emit.StageCompleted(ctx, models.StageReport, reportDetails)

	job.Stage = models.StageCompleted
	return result, nil
}

// cancelled fails the stage when the job context is already done.
func (o *Orchestrator) cancelled(ctx context.Context, job *models.Job, emit *Emitter, stage models.Stage) error {
	if err := ctx.Err(); err != nil {
		job.Stage = models.StageFailed
		emit.StageFailed(ctx, stage, err, nil)
		return stageErr(stage, err)
	}
	return nil
}

// detectBest returns the highest-confidence platform detection across
// all files. Earlier files win ties.
func detectBest(files []models.InputFile) models.PlatformDetectionResult {
	best := models.PlatformDetectionResult{DetectionMethod: models.DetectionByContent}
	for _, f := range files {
		r := platform.Detect(string(f.Content), f.Name)
		if r.Platform != nil && r.Confidence > best.Confidence {
			best = r
		}
	}
	return best
}

func detectionDetails(d models.PlatformDetectionResult) map[string]any {
	if d.Platform == nil {
		return map[string]any{"degraded": true, "platform": nil}
	}
	return map[string]any{
		"platform":   *d.Platform,
		"confidence": d.Confidence,
		"method":     string(d.DetectionMethod),
	}
}

// extractAll replaces every archive among the inputs with its extracted
// files. A single rejected archive fails the whole job.
func (o *Orchestrator) extractAll(files []models.InputFile) ([]models.InputFile, bool, error) {
	var (
		out          []models.InputFile
		enhancedUsed bool
	)
	for _, f := range files {
		format := archive.DetectFormat(f.Name, f.Content)
		if format == archive.FormatUnknown {
			out = append(out, f)
			continue
		}

		result := archive.Extract(f.Content, format, o.cfg.ArchiveLimits)
		enhancedUsed = enhancedUsed || result.EnhancedExtractorUsed
		if result.Rejected {
			return nil, enhancedUsed, &SecurityViolation{
				Reason: fmt.Sprintf("archive %s rejected: %s", f.Name, result.RejectionReason),
			}
		}
		for _, ef := range result.ExtractedFiles {
			out = append(out, models.InputFile{
				Name:    f.Name + "/" + ef.Path,
				Content: ef.Content,
			})
		}
	}
	return out, enhancedUsed, nil
}

// redactAll redacts every file with bounded fan-out and aggregates the
// per-file results into one summary.
func (o *Orchestrator) redactAll(ctx context.Context, files []models.InputFile, emit *Emitter) ([]redactedFile, models.RedactionSummary) {
	redacted := make([]redactedFile, len(files))
	results := make([]models.RedactionResult, len(files))

	workCh := make(chan int, len(files))
	for i := range files {
		workCh <- i
	}
	close(workCh)

	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		processed  int
	)
	workers := min(o.cfg.FileFanout, len(files))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				results[idx] = redact.Redact(string(files[idx].Content), o.cfg.RedactConfig)
				redacted[idx] = redactedFile{
					path:    files[idx].Name,
					content: results[idx].RedactedText,
				}

				// Increment and emit under one lock so counter order
				// and event order agree across workers.
				progressMu.Lock()
				processed++
				emit.Emit(ctx, models.StageRedaction, models.EventStarted,
					fmt.Sprintf("redacted %s (%d/%d)", files[idx].Name, processed, len(files)),
					map[string]any{
						"progress":    progressAt(models.StageRedaction, float64(processed)/float64(len(files))),
						"file":        files[idx].Name,
						"file_number": processed,
						"total_files": len(files),
					})
				progressMu.Unlock()
			}
		}()
	}
	wg.Wait()

	summary := models.RedactionSummary{
		ByCategory:       map[string]int{},
		ValidationPassed: true,
	}
	for _, r := range results {
		for cat, n := range r.Replacements {
			summary.ByCategory[cat] += n
			summary.TotalReplacements += n
		}
		if !r.ValidationPassed {
			summary.ValidationPassed = false
		}
		summary.ValidationWarnings = append(summary.ValidationWarnings, r.ValidationWarnings...)
	}
	return redacted, summary
}

// chunkAll splits redacted files into embeddable documents.
func (o *Orchestrator) chunkAll(jobID string, files []redactedFile) []models.Document {
	var docs []models.Document
	for _, f := range files {
		for _, c := range chunk.Split(f.content, o.cfg.ChunkConfig) {
			docs = append(docs, models.Document{
				JobID:      jobID,
				Path:       f.path,
				ChunkIndex: c.Index,
				Content:    c.Content,
			})
		}
	}
	return docs
}

// embedAll embeds every document in place and returns the mean vector
// as the job-level embedding, plus the attempt count of the batch call.
func (o *Orchestrator) embedAll(ctx context.Context, docs []models.Document) ([]float32, int, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	var vectors [][]float32
	attempts, err := withRetry(ctx, "embed_batch", o.cfg.RetryAttempts, o.cfg.ExternalTimeout, func(ctx context.Context) error {
		v, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("embed chunks: %w", err)
	}

	dim := o.embedder.Dimension()
	mean := make([]float32, dim)
	for i := range docs {
		docs[i].Embedding = vectors[i]
		for j, v := range vectors[i] {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float32(len(vectors))
	}
	return mean, attempts, nil
}

// storeDocuments persists embedded chunks and returns the total attempt
// count across all writes. Failures degrade the job rather than failing
// it; the analysis does not depend on storage.
func (o *Orchestrator) storeDocuments(ctx context.Context, docs []models.Document) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	total := 0
	for _, doc := range docs {
		attempts, err := withRetry(ctx, "store_document", o.cfg.RetryAttempts, o.cfg.ExternalTimeout, func(ctx context.Context) error {
			return o.store.CreateDocument(ctx, doc)
		})
		total += attempts
		if err != nil {
			return total, fmt.Errorf("store chunk %d of %s: %w", doc.ChunkIndex, doc.Path, err)
		}
	}
	return total, nil
}

// correlate looks up related incidents. Store failures degrade to an
// empty result; a dimension mismatch is returned as a stage error since
// it means the deployment is misconfigured, though the job continues.
func (o *Orchestrator) correlate(ctx context.Context, jobID string, embedding []float32, platformName *string) ([]models.RelatedIncident, map[string]any, error) {
	if o.correlator == nil {
		return nil, map[string]any{"related": 0}, nil
	}

	related, err := o.correlator.FindRelated(ctx, embedding, platformName, jobID)
	if errors.Is(err, correlate.ErrDimensionMismatch) {
		slog.Error("correlation misconfigured", "job_id", jobID, "error", err)
		return nil, nil, err
	}
	if err != nil {
		slog.Warn("correlation degraded", "job_id", jobID, "error", err)
		return nil, map[string]any{"degraded": true, "error": err.Error(), "related": 0}, nil
	}
	return related, map[string]any{"related": len(related)}, nil
}

// analyze runs the LLM assessment with caching by redacted content. A
// cache hit reports zero attempts.
func (o *Orchestrator) analyze(ctx context.Context, files []redactedFile, detection *models.PlatformDetectionResult, related []models.RelatedIncident) (*models.AnalysisResult, bool, int, error) {
	content := combineContent(files)
	key := cacheKey(content)

	if cached, ok := o.cache.get(key); ok {
		result := cached
		return &result, true, 0, nil
	}

	var result *models.AnalysisResult
	attempts, err := withRetry(ctx, "analyze", o.cfg.RetryAttempts, o.cfg.ExternalTimeout, func(ctx context.Context) error {
		r, err := o.analyzer.Analyze(ctx, models.AnalysisRequest{
			RedactedContent:   content,
			PlatformDetection: detection,
			RelatedIncidents:  related,
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, false, attempts, fmt.Errorf("analyze artifacts: %w", err)
	}

	o.cache.put(key, *result)
	return result, false, attempts, nil
}

func (o *Orchestrator) storeFingerprint(ctx context.Context, jobID string, embedding []float32, platformName *string, summary string) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	return withRetry(ctx, "store_fingerprint", o.cfg.RetryAttempts, o.cfg.ExternalTimeout, func(ctx context.Context) error {
		_, err := o.store.CreateFingerprint(ctx, models.IncidentFingerprint{
			Embedding:   embedding,
			SourceJobID: jobID,
			Platform:    platformName,
			Summary:     summary,
			CreatedAt:   time.Now().UTC(),
		})
		return err
	})
}

// combineContent joins redacted files into one capped analysis input,
// each section headed by its virtual path.
func combineContent(files []redactedFile) string {
	var sb strings.Builder
	for _, f := range files {
		if sb.Len() >= maxAnalysisChars {
			break
		}
		fmt.Fprintf(&sb, "=== %s ===\n", f.path)
		sb.WriteString(f.content)
		sb.WriteString("\n\n")
	}
	s := sb.String()
	if len(s) > maxAnalysisChars {
		// Back off to a rune boundary so the cap never splits a
		// multi-byte character.
		cut := maxAnalysisChars
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}
