package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": snapshot + journal files next to Path
//
// "none" disables storage (Open returns nil, nil).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobDispatched JobStatus = "dispatched"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one persisted unit of lane work.
type Job struct {
	ID           string          `json:"id"`
	Lane         string          `json:"lane"`
	Payload      json.RawMessage `json:"payload"`
	Status       JobStatus       `json:"status"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	DispatchedAt time.Time       `json:"dispatched_at,omitempty"`
}

// AuditEntry records one delivery or job outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Lane   string    `json:"lane"`
	JobID  string    `json:"job_id,omitempty"`
	Kind   string    `json:"kind"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}
