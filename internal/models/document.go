package models

import "time"

// Document is one redacted, embedded chunk of an artifact as stored
// for semantic search. Content is always post-redaction; raw artifact
// bytes never reach storage.
type Document struct {
	ID         string    `json:"id,omitempty"`
	JobID      string    `json:"job_id"`
	Path       string    `json:"path"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
	CreatedAt  time.Time `json:"created_at"`
}
