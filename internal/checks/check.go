// Package checks holds the site checks run by the daily and hourly cycles.
//
// A Check returns at most one Alert per run. Probe failures are reported as
// errors and never turn into alerts; the Runner contains them.
package checks

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

// Alert is a finding ready for delivery.
type Alert struct {
	Check string
	Text  string
	// Release undoes the dedup marks taken for this alert. The caller runs
	// it when delivery fails so the finding is reported on the next run.
	Release func(ctx context.Context) error
}

type Check interface {
	Name() string
	// Run returns nil when there is nothing to report.
	Run(ctx context.Context) (*Alert, error)
}

type funcCheck struct {
	name string
	fn   func(ctx context.Context) (string, error)
}

// Func adapts fn into a Check. An empty text means no finding.
func Func(name string, fn func(ctx context.Context) (string, error)) Check {
	return funcCheck{name: name, fn: fn}
}

func (f funcCheck) Name() string { return f.name }

func (f funcCheck) Run(ctx context.Context) (*Alert, error) {
	text, err := f.fn(ctx)
	return alertOf(f.name, text), err
}

func alertOf(check, text string) *Alert {
	if text == "" {
		return nil
	}
	return &Alert{Check: check, Text: text}
}

type Result struct {
	Check string
	Alert *Alert
	Err   error
	Took  time.Duration
}

// CycleEvent is published on eventbus.CheckCompleted after every Run.
type CycleEvent struct {
	Cycle  string
	Checks int
	Alerts int
	Errors int
	Took   time.Duration
}

const (
	DefaultLimit   = 4
	DefaultTimeout = 2 * time.Minute
)

// Runner executes checks concurrently with a bound. One check's failure or
// panic never affects the others.
type Runner struct {
	Limit   int
	Timeout time.Duration
	Log     logx.Logger
	Bus     eventbus.Bus
}

// Run executes checks and returns their results in input order.
func (r *Runner) Run(ctx context.Context, cycle string, checks []Check) []Result {
	start := time.Now()
	limit := r.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	log := r.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "checks"), logx.String("cycle", cycle))

	results := make([]Result, len(checks))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = r.runOne(ctx, c)
			if err := results[i].Err; err != nil {
				log.Debug("check failed", logx.String("check", c.Name()), logx.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	ev := CycleEvent{Cycle: cycle, Checks: len(checks), Took: time.Since(start)}
	for _, res := range results {
		if res.Alert != nil {
			ev.Alerts++
		}
		if res.Err != nil {
			ev.Errors++
		}
	}
	log.Debug("check cycle done", logx.Int("checks", ev.Checks), logx.Int("alerts", ev.Alerts), logx.Int("errors", ev.Errors), logx.Duration("took", ev.Took))
	if r.Bus != nil {
		r.Bus.Publish(eventbus.Event{Type: eventbus.CheckCompleted, Data: ev})
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, c Check) (res Result) {
	res.Check = c.Name()
	start := time.Now()
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		res.Took = time.Since(start)
		if rec := recover(); rec != nil {
			res.Alert = nil
			res.Err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	res.Alert, res.Err = c.Run(ctx)
	if res.Err != nil {
		res.Alert = nil
	}
	return res
}

// Alerts collects the findings of results, in order.
func Alerts(results []Result) []Alert {
	var out []Alert
	for _, r := range results {
		if r.Alert != nil && r.Alert.Text != "" {
			out = append(out, *r.Alert)
		}
	}
	return out
}
