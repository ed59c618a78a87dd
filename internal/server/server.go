// Package server exposes the analysis service over HTTP and streams
// job progress over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/opsight-go/internal/models"
	"github.com/raphaelgruber/opsight-go/internal/service"
)

// maxUploadBytes caps the total request body of a submission.
const maxUploadBytes = 256 << 20

// eventPollInterval is how often the WebSocket handler checks the
// event log for new entries.
const eventPollInterval = 200 * time.Millisecond

// Server is the HTTP API for job submission and progress tracking.
type Server struct {
	manager  *service.Manager
	logger   *slog.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New creates a server bound to addr.
func New(addr string, manager *service.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local tooling connects from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("GET /jobs", s.handleList)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/result", s.handleResult)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /jobs/{id}/events", s.handleEvents)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the configured HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// API payloads

type fileUpload struct {
	Name    string `json:"name"`
	Content []byte `json:"content"` // base64 in JSON
}

type submitRequest struct {
	Files []fileUpload `json:"files"`
}

// jobResponse is the external view of a job. Artifact content never
// appears in it.
type jobResponse struct {
	ID          string                 `json:"id"`
	Status      models.JobStatus       `json:"status"`
	Stage       models.Stage           `json:"stage"`
	FileNames   []string               `json:"file_names"`
	Progress    float64                `json:"progress"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       *string                `json:"error,omitempty"`
	Result      *models.AnalysisResult `json:"result,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toJobResponse(job models.Job, includeResult bool) jobResponse {
	names := make([]string, len(job.Files))
	for i, f := range job.Files {
		names[i] = f.Name
	}

	progress := 0.0
	for i := len(job.Events) - 1; i >= 0; i-- {
		if p := job.Events[i].Progress(); p >= 0 {
			progress = p
			break
		}
	}
	if job.Status == models.JobStatusCompleted {
		progress = 100
	}

	resp := jobResponse{
		ID:          job.ID,
		Status:      job.Status,
		Stage:       job.Stage,
		FileNames:   names,
		Progress:    progress,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
	}
	if includeResult {
		resp.Result = job.Result
	}
	return resp
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	files, err := readSubmission(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.manager.Submit(r.Context(), files)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "job queue is full" {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, toJobResponse(job, false))
}

// readSubmission accepts either a JSON body or a multipart form with
// one or more "files" parts.
func readSubmission(r *http.Request) ([]models.InputFile, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		var files []models.InputFile
		for _, hdr := range r.MultipartForm.File["files"] {
			f, err := hdr.Open()
			if err != nil {
				return nil, fmt.Errorf("open upload %q: %w", hdr.Filename, err)
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read upload %q: %w", hdr.Filename, err)
			}
			files = append(files, models.InputFile{Name: hdr.Filename, Content: content})
		}
		return files, nil
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	files := make([]models.InputFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = models.InputFile{Name: f.Name, Content: f.Content}
	}
	return files, nil
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	jobs := s.manager.List()
	out := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = toJobResponse(job, false)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job, true))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.manager.Result(id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Cancel(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "job_id": id})
}

// handleEvents streams progress events over WebSocket. The client may
// pass ?after=<seq> to resume from a cursor; events with Seq <= after
// are skipped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.manager.Get(id); err != nil {
		s.writeManagerError(w, err)
		return
	}

	after := -1
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "after must be an integer")
			return
		}
		after = n
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Detect client disconnect; the server never expects inbound
	// messages.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	for {
		events, err := s.manager.EventsSince(id, after)
		if err != nil {
			return
		}
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			after = ev.Seq
		}

		job, err := s.manager.Get(id)
		if err != nil {
			return
		}
		if job.Status.Terminal() && len(events) == 0 {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeError(w, http.StatusConflict, err.Error())
}
