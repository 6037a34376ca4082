package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "sitewatch/pkg/logx"
)

// Store is the persistence API used by the queue, throttle, checks and notifier.
type Store interface {
	// EnqueueJob inserts j as queued. j.ID must be unique.
	EnqueueJob(ctx context.Context, j Job) error
	// ClaimNextJob atomically flips the oldest queued job of lane to
	// dispatched and returns it. ok is false when the lane is empty.
	ClaimNextJob(ctx context.Context, lane string, now time.Time) (j Job, ok bool, err error)
	DeleteJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context, lane string, status JobStatus) (int, error)
	// PurgeDispatched removes jobs of lane left dispatched by a previous process.
	PurgeDispatched(ctx context.Context, lane string) ([]Job, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	DeleteDedup(ctx context.Context, key string) error

	PutSnapshot(ctx context.Context, key string, data []byte) error
	GetSnapshot(ctx context.Context, key string) (data []byte, updatedAt time.Time, ok bool, err error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
