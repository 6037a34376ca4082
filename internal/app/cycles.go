package app

import (
	"context"
	"errors"
	"time"

	"sitewatch/internal/checks"
	"sitewatch/internal/pagespeed"
	"sitewatch/internal/throttle"
	logx "sitewatch/pkg/logx"
)

// cycle builds the checks of one trigger from the current view.
type cycle func(v *view) []checks.Check

func (m *monitor) enabled(v *view, list []checks.Check) []checks.Check {
	out := list[:0]
	for _, c := range list {
		if v.settings.CheckEnabled(c.Name()) {
			out = append(out, c)
		}
	}
	return out
}

func (m *monitor) dailyChecks(v *view) []checks.Check {
	list := []checks.Check{
		&checks.FrontPageRobots{Site: v.site},
		&checks.Sitemap{Site: v.site},
		&checks.CacheHits{Site: v.site, Links: v.rest},
		&checks.CacheReserve{Site: v.site, CF: v.cf},
		&checks.CpanelUsage{Site: v.site, Quota: v.quota, Threshold: v.settings.CpanelThreshold},
	}
	if m.db != nil {
		list = append(list,
			&checks.AutoloadSize{DB: m.db},
			&checks.HPOS{Site: v.site, DB: m.db},
			&checks.NoOrders{Site: v.site, DB: m.db, Location: v.loc},
			&checks.Wordfence{
				Site:        v.site,
				DB:          m.db,
				MinSeverity: checks.SeverityValue(v.settings.WordfenceSeverity),
				Seen:        m.throttle.Gate("wordfence_issue", throttle.Forever()),
			},
			&checks.WordfenceWAF{Site: v.site, DB: m.db},
			&checks.Redirects404{Site: v.site, DB: m.db},
			&checks.PluginAutoUpdates{Site: v.site, DB: m.db},
			&checks.BillwerkSettings{Site: v.site, DB: m.db},
			&checks.RankMathRedirect{Site: v.site, DB: m.db},
			&checks.UpdraftBackups{Site: v.site, DB: m.db},
		)
	}
	return m.enabled(v, list)
}

func (m *monitor) hourlyChecks(v *view) []checks.Check {
	return m.enabled(v, []checks.Check{
		&checks.Permalinks{Site: v.site, Links: v.rest},
		&checks.UnderAttack{Site: v.site, CF: v.cf},
	})
}

func (m *monitor) wordfenceSummaryChecks(v *view) []checks.Check {
	if m.db == nil {
		return nil
	}
	return m.enabled(v, []checks.Check{
		&checks.WordfenceSummary{Site: v.site, DB: m.db, MinSeverity: checks.SeverityValue(v.settings.WordfenceSeverity)},
	})
}

func (m *monitor) menuCheck(v *view) checks.Check {
	return &checks.Menu{Slug: v.settings.Menu, Source: m.db, Store: m.store}
}

func (m *monitor) menuChecks(v *view) []checks.Check {
	if m.db == nil || v.settings.Menu == "" {
		return nil
	}
	return m.enabled(v, []checks.Check{m.menuCheck(v)})
}

// runCycle returns a trigger body that runs the cycle's checks and queues
// every finding on the alerts lane.
func (m *monitor) runCycle(name string, build cycle) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		list := build(m.view())
		if len(list) == 0 {
			m.log.Debug("no checks enabled", logx.String("cycle", name))
			return nil
		}
		return m.deliverAlerts(ctx, m.runner.Run(ctx, name, list))
	}
}

func (m *monitor) deliverAlerts(ctx context.Context, results []checks.Result) error {
	var errs []error
	for _, a := range checks.Alerts(results) {
		_, err := m.alerts.EnqueueKind(ctx, a.Check, a.Text)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if a.Release != nil {
			if rerr := a.Release(ctx); rerr != nil {
				m.log.Warn("release dedup marks failed", logx.String("check", a.Check), logx.Err(rerr))
			}
		}
	}
	return errors.Join(errs...)
}

// runPageSpeed plans the daily batch and hands it to the pagespeed lane.
// The lane does the slow work; this returns as soon as the job is stored.
func (m *monitor) runPageSpeed(ctx context.Context) error {
	v := m.view()
	if !v.settings.CheckEnabled("pagespeed") {
		return nil
	}
	planner := pagespeed.Planner{
		Source:    v.rest,
		SiteURL:   v.cfg.Site.URL,
		Threshold: v.settings.PageSpeedThreshold,
		Attempts:  v.settings.PageSpeedAttempts,
		Log:       m.log,
	}
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	b, err := planner.Plan(pctx)
	if err != nil {
		return err
	}
	id, err := m.psq.Enqueue(ctx, b)
	if err != nil {
		return err
	}
	m.log.Info("pagespeed batch queued", logx.String("job", id), logx.Int("urls", len(b.URLs)))
	return nil
}

// viewScorer scores with the client of the current view, so a reloaded API
// key applies to the next batch.
type viewScorer struct{ view func() *view }

func (s viewScorer) Score(ctx context.Context, pageURL string) (int, error) {
	return s.view().ps.Score(ctx, pageURL)
}
