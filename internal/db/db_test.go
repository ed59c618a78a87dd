// Package db integration tests run against a disposable SurrealDB
// container. Skipped under -short.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx, 4); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("integration database not available in -short mode")
	}
}

func strPtr(s string) *string { return &s }

func TestFingerprintRoundTrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	id, err := testDB.CreateFingerprint(ctx, models.IncidentFingerprint{
		Embedding:   []float32{1, 0, 0, 0},
		SourceJobID: "job-a",
		Platform:    strPtr("uipath"),
		Summary:     "executor crash on login",
	})
	if err != nil {
		t.Fatalf("CreateFingerprint failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty fingerprint ID")
	}

	n, err := testDB.CountFingerprints(ctx)
	if err != nil {
		t.Fatalf("CountFingerprints failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestNearestFingerprintsOrdering(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	seed := []struct {
		job string
		emb []float32
	}{
		{"job-close", []float32{1, 0.1, 0, 0}},
		{"job-far", []float32{0, 0, 1, 0}},
		{"job-exact", []float32{1, 0, 0, 0}},
	}
	for _, s := range seed {
		if _, err := testDB.CreateFingerprint(ctx, models.IncidentFingerprint{
			Embedding:   s.emb,
			SourceJobID: s.job,
			Summary:     s.job,
		}); err != nil {
			t.Fatalf("seed %s: %v", s.job, err)
		}
	}

	related, err := testDB.NearestFingerprints(ctx, []float32{1, 0, 0, 0}, nil, "query-job", 3)
	if err != nil {
		t.Fatalf("NearestFingerprints failed: %v", err)
	}
	if len(related) < 2 {
		t.Fatalf("got %d results, want at least 2", len(related))
	}
	if related[0].Fingerprint.SourceJobID != "job-exact" {
		t.Errorf("best match = %s, want job-exact", related[0].Fingerprint.SourceJobID)
	}
	for i := 1; i < len(related); i++ {
		if related[i].Similarity > related[i-1].Similarity {
			t.Errorf("results not sorted: %f after %f", related[i].Similarity, related[i-1].Similarity)
		}
	}
}

func TestNearestFingerprintsExcludesOwnJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	if _, err := testDB.CreateFingerprint(ctx, models.IncidentFingerprint{
		Embedding:   []float32{1, 0, 0, 0},
		SourceJobID: "job-self",
		Summary:     "own fingerprint",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	related, err := testDB.NearestFingerprints(ctx, []float32{1, 0, 0, 0}, nil, "job-self", 5)
	if err != nil {
		t.Fatalf("NearestFingerprints failed: %v", err)
	}
	if len(related) != 0 {
		t.Errorf("got %d results, want 0 after excluding own job", len(related))
	}
}

func TestNearestFingerprintsPlatformFilter(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	for _, p := range []string{"uipath", "blue_prism"} {
		if _, err := testDB.CreateFingerprint(ctx, models.IncidentFingerprint{
			Embedding:   []float32{0, 1, 0, 0},
			SourceJobID: "job-" + p,
			Platform:    strPtr(p),
			Summary:     p,
		}); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	related, err := testDB.NearestFingerprints(ctx, []float32{0, 1, 0, 0}, strPtr("uipath"), "query-job", 5)
	if err != nil {
		t.Fatalf("NearestFingerprints failed: %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("got %d results, want 1", len(related))
	}
	if related[0].Fingerprint.Platform == nil || *related[0].Fingerprint.Platform != "uipath" {
		t.Errorf("platform = %v, want uipath", related[0].Fingerprint.Platform)
	}
}

func TestDocumentStorageAndSearch(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	docs := []models.Document{
		{JobID: "job-1", Path: "run.log", ChunkIndex: 0, Content: "login failed", Embedding: []float32{1, 0, 0, 0}},
		{JobID: "job-1", Path: "run.log", ChunkIndex: 1, Content: "retry exhausted", Embedding: []float32{0, 1, 0, 0}},
	}
	for _, d := range docs {
		if err := testDB.CreateDocument(ctx, d); err != nil {
			t.Fatalf("CreateDocument failed: %v", err)
		}
	}

	found, err := testDB.SearchDocuments(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchDocuments failed: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("no documents found")
	}
	if found[0].Content != "login failed" {
		t.Errorf("best match = %q, want the aligned chunk", found[0].Content)
	}
}

func TestJobPersistence(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := models.Job{
		ID:        "testjob1",
		Files:     []models.InputFile{{Name: "run.log", Content: []byte("secret payload")}},
		Stage:     models.StageRedaction,
		Status:    models.JobStatusRunning,
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := testDB.UpsertJob(ctx, job); err != nil {
		t.Fatalf("UpsertJob failed: %v", err)
	}

	loaded, err := testDB.GetJob(ctx, "testjob1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if loaded.Status != models.JobStatusRunning {
		t.Errorf("status = %s, want running", loaded.Status)
	}
	if loaded.Stage != models.StageRedaction {
		t.Errorf("stage = %s, want redaction", loaded.Stage)
	}
	if len(loaded.Files) != 1 || loaded.Files[0].Name != "run.log" {
		t.Fatalf("files = %+v", loaded.Files)
	}
	// Content must never round-trip through the database.
	if len(loaded.Files[0].Content) != 0 {
		t.Error("file content was persisted")
	}

	// Upsert again with terminal state.
	job.Status = models.JobStatusCompleted
	job.Stage = models.StageCompleted
	job.CompletedAt = &now
	job.Result = &models.AnalysisResult{
		Severity:         models.SeverityHigh,
		ExecutiveSummary: "session lost",
	}
	if err := testDB.UpsertJob(ctx, job); err != nil {
		t.Fatalf("UpsertJob update failed: %v", err)
	}

	loaded, err = testDB.GetJob(ctx, "testjob1")
	if err != nil {
		t.Fatalf("GetJob after update failed: %v", err)
	}
	if loaded.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want completed", loaded.Status)
	}
	if loaded.Result == nil || loaded.Result.Severity != models.SeverityHigh {
		t.Errorf("result = %+v", loaded.Result)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		job := models.Job{
			ID:        fmt.Sprintf("listjob%d", i),
			Stage:     models.StageCompleted,
			Status:    models.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := testDB.UpsertJob(ctx, job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	jobs, err := testDB.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}
	for i, want := range []string{"listjob2", "listjob1", "listjob0"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, want)
		}
	}
}

func TestGetJobNotFound(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	_, err := testDB.GetJob(ctx, "missing")
	if err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestMarkInterruptedJobs(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	now := time.Now().UTC()
	for i, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusQueued, models.JobStatusCompleted} {
		job := models.Job{
			ID:        fmt.Sprintf("intjob%d", i),
			Stage:     models.StageEmbedding,
			Status:    status,
			CreatedAt: now,
		}
		if err := testDB.UpsertJob(ctx, job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	n, err := testDB.MarkInterruptedJobs(ctx)
	if err != nil {
		t.Fatalf("MarkInterruptedJobs failed: %v", err)
	}
	if n != 2 {
		t.Errorf("marked %d jobs, want 2", n)
	}

	loaded, err := testDB.GetJob(ctx, "intjob0")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if loaded.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", loaded.Status)
	}
	if loaded.Error == nil {
		t.Error("expected interruption error message")
	}

	completed, err := testDB.GetJob(ctx, "intjob2")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if completed.Status != models.JobStatusCompleted {
		t.Errorf("completed job was touched: %s", completed.Status)
	}
}

func TestEventLog(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	now := time.Now().UTC()
	for seq := 0; seq < 3; seq++ {
		ev := models.ProgressEvent{
			Seq:       seq,
			JobID:     "evjob",
			Stage:     models.StageRedaction,
			Status:    models.EventStarted,
			Label:     "Redacting sensitive data",
			Message:   fmt.Sprintf("pass %d", seq),
			Details:   map[string]any{"progress": float64(seq * 10)},
			Timestamp: now.Add(time.Duration(seq) * time.Second),
		}
		if err := testDB.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", seq, err)
		}
	}

	all, err := testDB.EventsSince(ctx, "evjob", -1)
	if err != nil {
		t.Fatalf("EventsSince failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	for i, ev := range all {
		if ev.Seq != i {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}

	tail, err := testDB.EventsSince(ctx, "evjob", 1)
	if err != nil {
		t.Fatalf("EventsSince cursor failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 2 {
		t.Fatalf("cursor replay = %+v, want single event seq 2", tail)
	}
}

func TestAppendEventDuplicateSeqRejected(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	defer testDB.WipeData(ctx)

	ev := models.ProgressEvent{
		Seq:       0,
		JobID:     "dupjob",
		Stage:     models.StageClassification,
		Status:    models.EventStarted,
		Label:     "Classifying input",
		Timestamp: time.Now().UTC(),
	}
	if err := testDB.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := testDB.AppendEvent(ctx, ev); err == nil {
		t.Fatal("duplicate (job_id, seq) append succeeded")
	}
}
