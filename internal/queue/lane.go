package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/eventbus"
	"sitewatch/internal/storage"
	logx "sitewatch/pkg/logx"
)

// Lane is one persisted FIFO job stream with a single worker.
type Lane struct {
	cfg   Config
	store storage.Store
	task  Task
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	dispatchMu sync.Mutex
	inFlight   atomic.Bool
	wake       chan struct{}

	processed atomic.Uint64
	failed    atomic.Uint64
	abandoned atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
	lastRun time.Time
}

func New(cfg Config, store storage.Store, task Task, log logx.Logger, bus eventbus.Bus) (*Lane, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if task == nil {
		return nil, fmt.Errorf("queue %q: task is required", cfg.Name)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("queue: lane name is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lane{
		cfg:   cfg.withDefaults(),
		store: store,
		task:  task,
		log:   log.With(logx.String("comp", "queue"), logx.String("lane", cfg.Name)),
		bus:   bus,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
	}, nil
}

func (l *Lane) Name() string { return l.cfg.Name }

// Enqueue persists payload as a queued job and wakes the lane.
// It never runs the task itself.
func (l *Lane) Enqueue(ctx context.Context, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue %s: encode payload: %w", l.cfg.Name, err)
	}
	id := uuid.NewString()
	j := storage.Job{ID: id, Lane: l.cfg.Name, Payload: raw, Status: storage.JobQueued, EnqueuedAt: l.now()}
	if err := l.store.EnqueueJob(ctx, j); err != nil {
		return "", fmt.Errorf("queue %s: persist job: %w", l.cfg.Name, err)
	}
	l.publish(eventbus.JobEnqueued, JobEvent{Lane: l.cfg.Name, ID: id})
	l.Wake()
	return id, nil
}

// Wake requests a near-term dispatch without blocking.
func (l *Lane) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Recover removes jobs left dispatched by a previous process.
// Delivery is at-most-once: such jobs are not retried.
func (l *Lane) Recover(ctx context.Context) (int, error) {
	stale, err := l.store.PurgeDispatched(ctx, l.cfg.Name)
	if err != nil {
		return 0, fmt.Errorf("queue %s: recover: %w", l.cfg.Name, err)
	}
	for _, j := range stale {
		l.abandoned.Add(1)
		l.log.Warn("abandoned job from previous run", logx.String("job", j.ID), logx.Time("dispatched_at", j.DispatchedAt))
		l.publish(eventbus.JobAbandoned, JobEvent{Lane: l.cfg.Name, ID: j.ID})
	}
	return len(stale), nil
}

// Run is the lane loop: it drains on start, on every Wake and on the safety
// interval, until ctx is done.
func (l *Lane) Run(ctx context.Context) error {
	t := time.NewTicker(l.cfg.SafetyInterval)
	defer t.Stop()

	l.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-t.C:
		}
		l.drain(ctx)
	}
}

func (l *Lane) drain(ctx context.Context) {
	n, err := l.Dispatch(ctx)
	if err != nil && ctx.Err() == nil {
		l.log.Warn("dispatch failed", logx.Int("processed", n), logx.Err(err))
		return
	}
	if n > 0 {
		l.log.Debug("dispatch done", logx.Int("processed", n))
	}
}

// Dispatch runs every queued job of the lane in FIFO order, one at a time.
// It returns ErrDispatchInFlight if another Dispatch is running.
func (l *Lane) Dispatch(ctx context.Context) (int, error) {
	if !l.dispatchMu.TryLock() {
		return 0, ErrDispatchInFlight
	}
	defer l.dispatchMu.Unlock()

	l.inFlight.Store(true)
	defer l.inFlight.Store(false)

	processed := 0
	for ctx.Err() == nil {
		sj, ok, err := l.store.ClaimNextJob(ctx, l.cfg.Name, l.now())
		if err != nil {
			return processed, fmt.Errorf("queue %s: claim: %w", l.cfg.Name, err)
		}
		if !ok {
			break
		}
		l.execOne(ctx, Job{ID: sj.ID, Lane: sj.Lane, Payload: sj.Payload, EnqueuedAt: sj.EnqueuedAt})
		processed++
	}
	return processed, nil
}

func (l *Lane) execOne(ctx context.Context, j Job) {
	start := l.now()
	queueDelay := start.Sub(j.EnqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				l.log.Error("job panicked", logx.String("job", j.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = l.task(ctx, j)
	}()
	took := l.now().Sub(start)

	// The row goes away whatever the outcome; removal must not depend on ctx.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if derr := l.store.DeleteJob(dctx, j.ID); derr != nil {
		l.log.Error("job removal failed", logx.String("job", j.ID), logx.Err(derr))
	}
	cancel()

	item := HistoryItem{ID: j.ID, Started: start, QueueDelay: queueDelay, Duration: took}
	if err != nil {
		item.Error = err.Error()
		l.failed.Add(1)
		l.log.Debug("job failed", logx.String("job", j.ID), logx.Duration("took", took), logx.Err(err))
		l.publish(eventbus.JobFailed, JobEvent{Lane: l.cfg.Name, ID: j.ID, Duration: took, Error: err.Error()})
	} else {
		l.processed.Add(1)
		l.publish(eventbus.JobCompleted, JobEvent{Lane: l.cfg.Name, ID: j.ID, Duration: took})
	}

	l.hmu.Lock()
	l.lastRun = start
	l.history = append(l.history, item)
	if len(l.history) > l.cfg.HistorySize {
		l.history = l.history[len(l.history)-l.cfg.HistorySize:]
	}
	l.hmu.Unlock()
}

func (l *Lane) publish(typ string, data JobEvent) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Time: l.now(), Data: data})
}

func (l *Lane) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Name:      l.cfg.Name,
		InFlight:  l.inFlight.Load(),
		Processed: l.processed.Load(),
		Failed:    l.failed.Load(),
		Abandoned: l.abandoned.Load(),
	}
	if n, err := l.store.CountJobs(ctx, l.cfg.Name, storage.JobQueued); err == nil {
		snap.Pending = n
	}
	l.hmu.Lock()
	snap.LastRun = l.lastRun
	snap.History = append([]HistoryItem(nil), l.history...)
	l.hmu.Unlock()
	return snap
}
