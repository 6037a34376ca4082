package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDispatchInFlight = errors.New("queue: dispatch already in flight")
	ErrNoStore          = errors.New("queue: store is required")
)

// Task handles one job payload. Errors and panics are contained by the lane.
type Task func(ctx context.Context, job Job) error

// Job is what a Task receives.
type Job struct {
	ID         string
	Lane       string
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error { return json.Unmarshal(j.Payload, v) }

type Config struct {
	Name string

	// SafetyInterval re-runs Dispatch periodically in case a wake was lost.
	SafetyInterval time.Duration
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.SafetyInterval <= 0 {
		c.SafetyInterval = time.Hour
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// JobEvent is the payload of queue bus events.
type JobEvent struct {
	Lane     string        `json:"lane"`
	ID       string        `json:"id"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	Name      string        `json:"name"`
	Pending   int           `json:"pending"`
	InFlight  bool          `json:"in_flight"`
	Processed uint64        `json:"processed"`
	Failed    uint64        `json:"failed"`
	Abandoned uint64        `json:"abandoned"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	History   []HistoryItem `json:"history,omitempty"`
}
