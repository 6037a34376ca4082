package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sitewatch/internal/eventbus"
	"sitewatch/internal/queue"
	"sitewatch/internal/storage"
	logx "sitewatch/pkg/logx"
)

// Sender is the synchronous delivery path. *Telegram implements it.
type Sender interface {
	Send(ctx context.Context, text string) (int, error)
}

// Enqueuer persists a payload on a lane. *queue.Lane implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any) (string, error)
}

const alertsLane = "alerts"

// Service is the single entry point for outbound alerts.
type Service struct {
	sender Sender
	store  storage.Store
	log    logx.Logger
	bus    eventbus.Bus

	mu   sync.RWMutex
	lane Enqueuer

	hmu     sync.Mutex
	history []HistoryItem
}

func New(sender Sender, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{sender: sender, store: store, log: log.With(logx.String("comp", "notifier")), bus: bus}
}

// AttachLane sets the lane used by Enqueue. The lane's task should be HandleJob.
func (s *Service) AttachLane(lane Enqueuer) {
	s.mu.Lock()
	s.lane = lane
	s.mu.Unlock()
}

// Notify sends now, or queues when background is true.
func (s *Service) Notify(ctx context.Context, text string, background bool) error {
	if background {
		_, err := s.Enqueue(ctx, text)
		return err
	}
	return s.SendNow(ctx, text)
}

// SendNow delivers text synchronously and returns the delivery error.
func (s *Service) SendNow(ctx context.Context, text string) error {
	return s.deliver(ctx, Message{Text: text, Kind: "direct"}, "")
}

// Enqueue queues text on the alerts lane and returns the job id.
func (s *Service) Enqueue(ctx context.Context, text string) (string, error) {
	return s.EnqueueKind(ctx, "", text)
}

// EnqueueKind is Enqueue with a kind label carried into audit and events.
func (s *Service) EnqueueKind(ctx context.Context, kind, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	s.mu.RLock()
	lane := s.lane
	s.mu.RUnlock()
	if lane == nil {
		return "", ErrNoQueue
	}
	return lane.Enqueue(ctx, Message{Text: text, Kind: kind})
}

// HandleJob is the alerts lane task. Every message is attempted once.
func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	var m Message
	if err := job.Decode(&m); err != nil {
		return fmt.Errorf("decode alert: %w", err)
	}
	return s.deliver(ctx, m, job.ID)
}

func (s *Service) deliver(ctx context.Context, m Message, jobID string) error {
	if strings.TrimSpace(m.Text) == "" {
		return nil
	}
	start := time.Now()
	chunks, err := s.sender.Send(ctx, m.Text)
	took := time.Since(start)

	ev := DeliveryEvent{Kind: m.Kind, JobID: jobID, Chunks: chunks, Took: took}
	item := HistoryItem{At: start, Kind: m.Kind, Text: m.Text}
	if err != nil {
		ev.Error = err.Error()
		item.Error = err.Error()
		if errors.Is(err, ErrNotConfigured) {
			s.log.Debug("send skipped: telegram not configured", logx.String("kind", m.Kind))
		} else {
			s.log.Debug("send failed", logx.String("kind", m.Kind), logx.String("job", jobID), logx.Err(err))
		}
	}
	s.appendHistory(item)
	s.audit(m, jobID, took, err)
	s.publish(ev, err)
	return err
}

func (s *Service) audit(m Message, jobID string, took time.Duration, sendErr error) {
	if s.store == nil {
		return
	}
	lane := "sync"
	if jobID != "" {
		lane = alertsLane
	}
	e := storage.AuditEntry{At: time.Now(), Lane: lane, JobID: jobID, Kind: m.Kind, OK: sendErr == nil, TookMS: took.Milliseconds()}
	if sendErr != nil {
		e.Error = sendErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func (s *Service) publish(ev DeliveryEvent, err error) {
	if s.bus == nil {
		return
	}
	typ := eventbus.NotifySent
	if err != nil {
		typ = eventbus.NotifyFailed
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) appendHistory(it HistoryItem) {
	const max = 50
	if rs := []rune(it.Text); len(rs) > 200 {
		it.Text = string(rs[:200])
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
