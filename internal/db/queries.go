package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// recordIDString extracts the string part of a SurrealDB record ID.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected record ID type: %T", id.ID)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Fingerprints
// ---------------------------------------------------------------------------

type fingerprintRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	Embedding   []float32              `json:"embedding"`
	SourceJobID string                 `json:"source_job_id"`
	Platform    *string                `json:"platform,omitempty"`
	Summary     string                 `json:"summary"`
	CreatedAt   time.Time              `json:"created_at"`
	Similarity  float64                `json:"similarity,omitempty"`
}

func (r fingerprintRow) toModel() (models.IncidentFingerprint, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.IncidentFingerprint{}, err
	}
	return models.IncidentFingerprint{
		ID:          id,
		Embedding:   r.Embedding,
		SourceJobID: r.SourceJobID,
		Platform:    r.Platform,
		Summary:     r.Summary,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// CreateFingerprint stores an incident fingerprint and returns its ID.
// Fingerprints are immutable once written.
func (c *Client) CreateFingerprint(ctx context.Context, fp models.IncidentFingerprint) (string, error) {
	results, err := surrealdb.Query[[]fingerprintRow](ctx, c.db, `
		CREATE fingerprint SET
			embedding = $embedding,
			source_job_id = $source_job_id,
			platform = $platform,
			summary = $summary,
			created_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"embedding":     fp.Embedding,
		"source_job_id": fp.SourceJobID,
		"platform":      fp.Platform,
		"summary":       fp.Summary,
	})
	if err != nil {
		return "", fmt.Errorf("create fingerprint: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", fmt.Errorf("create fingerprint: no result returned")
	}
	return recordIDString((*results)[0].Result[0].ID)
}

// NearestFingerprints returns stored fingerprints ranked by cosine
// similarity to the query embedding, most similar first. When platform
// is non-nil only fingerprints from that platform are considered.
// Fingerprints written by excludeJobID are skipped so a job never
// correlates with itself.
func (c *Client) NearestFingerprints(
	ctx context.Context,
	embedding []float32,
	platform *string,
	excludeJobID string,
	limit int,
) ([]models.RelatedIncident, error) {
	platformClause := ""
	if platform != nil {
		platformClause = "AND platform = $platform"
	}

	// HNSW KNN with ef=40, similarity recomputed for exact ordering.
	sql := fmt.Sprintf(`
		SELECT *, vector::similarity::cosine(embedding, $emb) AS similarity
		FROM fingerprint
		WHERE embedding <|%d,40|> $emb
		  AND source_job_id != $exclude
		  %s
		ORDER BY similarity DESC, created_at DESC
		LIMIT $limit
	`, limit*2, platformClause)

	vars := map[string]any{
		"emb":     embedding,
		"exclude": excludeJobID,
		"limit":   limit,
	}
	if platform != nil {
		vars["platform"] = *platform
	}

	results, err := surrealdb.Query[[]fingerprintRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("nearest fingerprints: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	var related []models.RelatedIncident
	for _, row := range (*results)[0].Result {
		fp, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("nearest fingerprints: %w", err)
		}
		related = append(related, models.RelatedIncident{
			Fingerprint: fp,
			Similarity:  row.Similarity,
		})
	}
	return related, nil
}

// CountFingerprints returns the number of stored fingerprints.
func (c *Client) CountFingerprints(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct {
		C int `json:"c"`
	}](ctx, c.db, `SELECT count() AS c FROM fingerprint GROUP ALL`, nil)
	if err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

type documentRow struct {
	ID         surrealmodels.RecordID `json:"id"`
	JobID      string                 `json:"job_id"`
	Path       string                 `json:"path"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Embedding  []float32              `json:"embedding"`
	CreatedAt  time.Time              `json:"created_at"`
}

func (r documentRow) toModel() (models.Document, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Document{}, err
	}
	return models.Document{
		ID:         id,
		JobID:      r.JobID,
		Path:       r.Path,
		ChunkIndex: r.ChunkIndex,
		Content:    r.Content,
		Embedding:  r.Embedding,
		CreatedAt:  r.CreatedAt,
	}, nil
}

// CreateDocument stores one redacted, embedded chunk.
func (c *Client) CreateDocument(ctx context.Context, doc models.Document) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE document SET
			job_id = $job_id,
			path = $path,
			chunk_index = $chunk_index,
			content = $content,
			embedding = $embedding,
			created_at = time::now()
	`, map[string]any{
		"job_id":      doc.JobID,
		"path":        doc.Path,
		"chunk_index": doc.ChunkIndex,
		"content":     doc.Content,
		"embedding":   doc.Embedding,
	})
	if err != nil {
		return fmt.Errorf("create document: %w", wrapQueryError(err))
	}
	return nil
}

// SearchDocuments returns stored chunks ranked by cosine similarity to
// the query embedding.
func (c *Client) SearchDocuments(ctx context.Context, embedding []float32, limit int) ([]models.Document, error) {
	results, err := surrealdb.Query[[]documentRow](ctx, c.db, fmt.Sprintf(`
		SELECT *, vector::similarity::cosine(embedding, $emb) AS similarity
		FROM document
		WHERE embedding <|%d,40|> $emb
		ORDER BY similarity DESC
		LIMIT $limit
	`, limit), map[string]any{"emb": embedding, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	docs := make([]models.Document, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		doc, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("search documents: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

type jobRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	Status      string                 `json:"status"`
	Stage       string                 `json:"stage"`
	FileNames   []string               `json:"file_names"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       *string                `json:"error,omitempty"`
	Result      *models.AnalysisResult `json:"result,omitempty"`
}

func (r jobRow) toModel() (models.Job, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Job{}, err
	}
	files := make([]models.InputFile, len(r.FileNames))
	for i, name := range r.FileNames {
		files[i] = models.InputFile{Name: name}
	}
	return models.Job{
		ID:          id,
		Files:       files,
		Stage:       models.Stage(r.Stage),
		Status:      models.JobStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
		Result:      r.Result,
	}, nil
}

// UpsertJob persists job metadata and outcome. Artifact content is
// never written to the database.
func (c *Client) UpsertJob(ctx context.Context, job models.Job) error {
	names := make([]string, len(job.Files))
	for i, f := range job.Files {
		names[i] = f.Name
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("job", $id) SET
			status = $status,
			stage = $stage,
			file_names = $file_names,
			created_at = $created_at,
			started_at = $started_at,
			completed_at = $completed_at,
			error = $error,
			result = $result
	`, map[string]any{
		"id":           job.ID,
		"status":       string(job.Status),
		"stage":        string(job.Stage),
		"file_names":   names,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
		"error":        job.Error,
		"result":       job.Result,
	})
	if err != nil {
		return fmt.Errorf("upsert job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob loads a persisted job by ID. Returns ErrNotFound when the job
// does not exist.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}

	job, err := (*results)[0].Result[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns all persisted jobs, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]models.Job, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM job ORDER BY created_at DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	jobs := make([]models.Job, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		job, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkInterruptedJobs fails any job still recorded as queued or running.
// Called once at startup; artifact content is gone after a restart, so
// such jobs can never resume.
func (c *Client) MarkInterruptedJobs(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		UPDATE job SET
			status = "failed",
			stage = "failed",
			error = "interrupted by server restart",
			completed_at = time::now()
		WHERE status IN ["queued", "running"]
		RETURN AFTER
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// ---------------------------------------------------------------------------
// Progress events
// ---------------------------------------------------------------------------

type eventRow struct {
	JobID     string         `json:"job_id"`
	Seq       int            `json:"seq"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Label     string         `json:"label"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (r eventRow) toModel() models.ProgressEvent {
	return models.ProgressEvent{
		Seq:       r.Seq,
		JobID:     r.JobID,
		Stage:     models.Stage(r.Stage),
		Status:    models.EventStatus(r.Status),
		Label:     r.Label,
		Message:   r.Message,
		Details:   r.Details,
		Timestamp: r.Timestamp,
	}
}

// AppendEvent persists one progress event. The (job_id, seq) unique
// index makes duplicate appends fail rather than fork the log.
func (c *Client) AppendEvent(ctx context.Context, ev models.ProgressEvent) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE event SET
			job_id = $job_id,
			seq = $seq,
			stage = $stage,
			status = $status,
			label = $label,
			message = $message,
			details = $details,
			timestamp = $timestamp
	`, map[string]any{
		"job_id":    ev.JobID,
		"seq":       ev.Seq,
		"stage":     string(ev.Stage),
		"status":    string(ev.Status),
		"label":     ev.Label,
		"message":   ev.Message,
		"details":   ev.Details,
		"timestamp": ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("append event: %w", wrapQueryError(err))
	}
	return nil
}

// EventsSince returns a job's persisted events with seq greater than
// afterSeq, in ascending order. afterSeq -1 replays the full log.
func (c *Client) EventsSince(ctx context.Context, jobID string, afterSeq int) ([]models.ProgressEvent, error) {
	results, err := surrealdb.Query[[]eventRow](ctx, c.db, `
		SELECT * FROM event
		WHERE job_id = $job_id AND seq > $after
		ORDER BY seq ASC
	`, map[string]any{"job_id": jobID, "after": afterSeq})
	if err != nil {
		return nil, fmt.Errorf("events since: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	events := make([]models.ProgressEvent, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		events = append(events, row.toModel())
	}
	return events, nil
}
