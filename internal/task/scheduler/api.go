package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

var ErrUnknownTrigger = errors.New("scheduler: unknown trigger")

// Schedule registers fn under name, firing at anchor ("HH:MM") every day, or
// every hour at the anchor minute. It returns false without changes if a
// trigger with the same name already exists.
func (s *Service) Schedule(name, anchor string, period Period, fn Func) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.New("name required")
	}
	if fn == nil {
		return false, errors.New("trigger func required")
	}
	spec, err := cronSpec(anchor, period)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(name) != nil {
		return false, nil
	}
	d := &trigger{name: name, anchor: strings.TrimSpace(anchor), period: period, spec: spec, fn: fn}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			s.defs = s.defs[:len(s.defs)-1]
			return false, err
		}
		args := []logx.Field{logx.String("name", name), logx.String("spec", spec)}
		if next := s.previewNextRunsLocked(spec, 3); next != "" {
			args = append(args, logx.String("next", next))
		}
		s.log.Debug("trigger registered", args...)
	}
	return true, nil
}

// Registered reports whether a trigger named name exists.
func (s *Service) Registered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(strings.TrimSpace(name)) != nil
}

// Unschedule removes the trigger. It returns true if something was removed.
func (s *Service) Unschedule(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		s.log.Debug("trigger removed", logx.String("name", name))
		return true
	}
	return false
}

// Fire runs a registered trigger body now, outside cron.
func (s *Service) Fire(ctx context.Context, name string) error {
	s.mu.Lock()
	d := s.findLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	return s.run(ctx, d)
}

func (s *Service) findLocked(name string) *trigger {
	for _, d := range s.defs {
		if d.name == name {
			return d
		}
	}
	return nil
}

func (s *Service) addCronLocked(d *trigger) error {
	eid, err := s.c.AddJob(d.spec, s.cronJob(d))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) cronJob(d *trigger) cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		_ = s.run(ctx, d)
	})
}

func (s *Service) run(ctx context.Context, d *trigger) error {
	start := time.Now()
	err := d.fn(ctx)
	took := time.Since(start)

	s.mu.Lock()
	d.runs++
	d.lastAt = start
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	s.mu.Unlock()

	ev := FiredEvent{Name: d.name, Duration: took}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("trigger failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("trigger fired", logx.String("name", d.name), logx.Duration("took", took))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TriggerFired, Time: start, Data: ev})
	}
	return err
}

func cronSpec(anchor string, period Period) (string, error) {
	h, m, err := parseHHMM(anchor)
	if err != nil {
		return "", err
	}
	switch period {
	case Daily:
		return fmt.Sprintf("%d %d * * *", m, h), nil
	case Hourly:
		return fmt.Sprintf("%d * * * *", m), nil
	default:
		return "", fmt.Errorf("unsupported period %d", period)
	}
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times
// for the given cron spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
