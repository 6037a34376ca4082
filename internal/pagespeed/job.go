package pagespeed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sitewatch/internal/queue"
	logx "sitewatch/pkg/logx"
)

// Alerter queues alert text for delivery. *notifier.Service implements it.
type Alerter interface {
	EnqueueKind(ctx context.Context, kind, text string) (string, error)
}

// Job is the pagespeed lane task.
type Job struct {
	Runner *Runner
	Alerts Alerter
	Log    logx.Logger
}

func (j *Job) Handle(ctx context.Context, qj queue.Job) error {
	var b Batch
	if err := qj.Decode(&b); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}
	if len(b.URLs) == 0 {
		return nil
	}
	text, err := j.Runner.Run(ctx, b)
	if err != nil {
		return err
	}
	if text == "" {
		if !j.Log.IsZero() {
			j.Log.Debug("pagespeed batch passed", logx.String("job", qj.ID), logx.Int("urls", len(b.URLs)))
		}
		return nil
	}
	_, err = j.Alerts.EnqueueKind(ctx, "pagespeed", text)
	return err
}

// URLSource resolves sample pages for a batch. *wordpress.REST implements it.
type URLSource interface {
	OldestPostLink(ctx context.Context, postType string) (string, error)
	OldestTermLink(ctx context.Context, taxonomy string) (string, error)
}

// Planner builds the daily batch: home page, oldest product and oldest
// product category. Missing product data only narrows the batch.
type Planner struct {
	Source    URLSource
	SiteURL   string
	Threshold int
	Attempts  int
	Log       logx.Logger
}

func (p *Planner) Plan(ctx context.Context) (Batch, error) {
	site := strings.TrimRight(p.SiteURL, "/")
	if site == "" {
		return Batch{}, errors.New("pagespeed: site url is empty")
	}
	b := Batch{
		URLs:      map[string]string{"home": site + "/"},
		Threshold: p.Threshold,
		Attempts:  p.Attempts,
		SiteURL:   site,
	}
	if b.Threshold <= 0 {
		b.Threshold = 90
	}
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if p.Source == nil {
		return b, nil
	}
	log := p.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if u, err := p.Source.OldestPostLink(ctx, "product"); err != nil {
		log.Debug("no product url for pagespeed", logx.Err(err))
	} else if u != "" {
		b.URLs["product"] = u
	}
	if u, err := p.Source.OldestTermLink(ctx, "product_cat"); err != nil {
		log.Debug("no category url for pagespeed", logx.Err(err))
	} else if u != "" {
		b.URLs["category"] = u
	}
	return b, nil
}
