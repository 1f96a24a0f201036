// Run-status bookkeeping collaborator consumed by the orchestrator.
package store

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// RunStatusUpdate carries the fields the orchestrator reports per transition.
// Nil pointers mean "unchanged".
type RunStatusUpdate struct {
	Status       string     `json:"status"`
	Progress     *int       `json:"progress,omitempty"`
	OutputPath   string     `json:"output_path,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusStore persists run status transitions. The SQL-backed dashboard
// implements this; FileStatusStore covers standalone deployments.
type StatusStore interface {
	UpdateRunStatus(id string, update RunStatusUpdate) error
}

type statusRecord struct {
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Update    RunStatusUpdate `json:"update"`
}

// FileStatusStore appends status transitions to a JSONL file.
type FileStatusStore struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileStatusStore opens (or creates) path for appending.
func NewFileStatusStore(path string) (*FileStatusStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileStatusStore{file: f, enc: json.NewEncoder(f)}, nil
}

// UpdateRunStatus logs a single status transition.
func (s *FileStatusStore) UpdateRunStatus(id string, update RunStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(statusRecord{RunID: id, Timestamp: time.Now().UTC(), Update: update})
}

// Close closes the underlying file.
func (s *FileStatusStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
