package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"sitewatch/internal/checks"
	"sitewatch/internal/config"
	"sitewatch/internal/eventbus"
	"sitewatch/internal/hooks"
	"sitewatch/internal/ingest"
	"sitewatch/internal/notifier"
	"sitewatch/internal/pagespeed"
	"sitewatch/internal/queue"
	"sitewatch/internal/runtime/supervisor"
	"sitewatch/internal/storage"
	"sitewatch/internal/task/scheduler"
	"sitewatch/internal/throttle"
	"sitewatch/internal/wordpress"
	logx "sitewatch/pkg/logx"
)

const hookTimeout = time.Minute

// restartSections are config sections whose components are built once.
var restartSections = []string{"storage", "throttle", "queue", "wordpress", "ingest"}

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	thr   *throttle.Throttle
	db    *wordpress.DB

	tg      *notifier.Telegram
	notif   *notifier.Service
	alerts  *queue.Lane
	psLane  *queue.Lane
	sched   *scheduler.Service
	hooks   *hooks.Registry
	ingest  *ingest.Server
	monitor *monitor

	hc  *http.Client
	cur atomic.Pointer[view]
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (_ *App, err error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), newOpsSender(cfg, bootLog))
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		hc:      &http.Client{},
	}
	defer func() {
		if err != nil {
			_ = a.closeResources()
			_ = logSvc.Close()
		}
	}()
	a.cur.Store(newView(cfg, a.hc, log))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, log); err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	if a.thr, err = throttle.Open(ctx, mapThrottleConfig(cfg), a.store, log, a.bus); err != nil {
		return nil, err
	}

	dbc, err := mapDBConfig(cfg)
	if err != nil {
		return nil, err
	}
	if dbc.Configured() {
		if a.db, err = wordpress.OpenDB(dbc); err != nil {
			return nil, fmt.Errorf("wordpress db: %w", err)
		}
	} else {
		log.Warn("wordpress database not configured; database checks are off")
	}

	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.tg = notifier.NewTelegram(tc, a.hc)
	if !a.tg.Configured() {
		log.Warn("telegram bot token or chat id missing; alerts will fail until configured")
	}
	a.notif = notifier.New(a.tg, a.store, log, a.bus)

	qc, err := mapQueueConfig(cfg, laneAlerts)
	if err != nil {
		return nil, err
	}
	if a.alerts, err = queue.New(qc, a.store, a.notif.HandleJob, log, a.bus); err != nil {
		return nil, err
	}
	a.notif.AttachLane(a.alerts)

	psJob := &pagespeed.Job{
		Runner: &pagespeed.Runner{Scorer: viewScorer{view: a.view}, Log: log},
		Alerts: a.notif,
		Log:    log.With(logx.String("comp", "pagespeed")),
	}
	qc.Name = lanePageSpeed
	if a.psLane, err = queue.New(qc, a.store, psJob.Handle, log, a.bus); err != nil {
		return nil, err
	}

	a.monitor = &monitor{
		view:     a.view,
		alerts:   a.notif,
		psq:      a.psLane,
		throttle: a.thr,
		store:    a.store,
		runner:   &checks.Runner{Log: log, Bus: a.bus},
		log:      log.With(logx.String("comp", "monitor")),
	}
	if a.db != nil {
		a.monitor.db = a.db
	}

	a.sched = scheduler.New(scheduler.Config{Enabled: cfg.SchedulerEnabled(), Timezone: cfg.Timezone()}, log, a.bus)

	a.hooks = hooks.NewRegistry(log, hooks.Timeout(hookTimeout))
	a.monitor.register(a.hooks)

	if strings.TrimSpace(cfg.Ingest.Addr) != "" {
		a.ingest = ingest.New(ingest.Config{
			Addr:  cfg.Ingest.Addr,
			Token: cfg.Ingest.Token,
			Pprof: cfg.Ingest.Pprof,
		}, a.hooks, a.health, log)
	}
	return a, nil
}

func (a *App) view() *view { return a.cur.Load() }

// Hooks is the event registry fed by the ingest endpoint.
func (a *App) Hooks() *hooks.Registry { return a.hooks }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	// Jobs left dispatched by a crashed process are dropped, never re-run.
	for _, l := range []*queue.Lane{a.alerts, a.psLane} {
		if n, err := l.Recover(run); err != nil {
			return fmt.Errorf("recover lane %s: %w", l.Name(), err)
		} else if n > 0 {
			a.log.Warn("dropped jobs interrupted by the previous run", logx.String("lane", l.Name()), logx.Int("jobs", n))
		}
	}

	if err := a.registerTriggers(); err != nil {
		return err
	}

	a.sup.Go("lane."+laneAlerts, a.alerts.Run)
	a.sup.Go("lane."+lanePageSpeed, a.psLane.Run)

	if a.sched.Enabled() {
		a.sched.Start(run)
	}

	if a.ingest != nil {
		a.sup.GoRestart("ingest", a.ingest.Serve,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithPublishFirstError(false))
	}

	a.sup.Go0("cloudflare.verify", func(c context.Context) {
		cf := a.view().cf
		if !cf.Configured() {
			return
		}
		vctx, cancel := context.WithTimeout(c, 30*time.Second)
		defer cancel()
		if err := cf.VerifyToken(vctx); err != nil {
			a.log.Warn("cloudflare token check failed", logx.Err(err))
			return
		}
		a.log.Info("cloudflare token verified")
	})

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("site", a.view().cfg.SiteName()),
		logx.Bool("ingest", a.ingest != nil),
		logx.Bool("database", a.db != nil))
	return nil
}

// registerTriggers schedules every cadence. Registering twice is a no-op.
func (a *App) registerTriggers() error {
	bodies := map[string]scheduler.Func{
		TriggerDailyCheck:       a.monitor.runCycle(TriggerDailyCheck, a.monitor.dailyChecks),
		TriggerHourlyCheck:      a.monitor.runCycle(TriggerHourlyCheck, a.monitor.hourlyChecks),
		TriggerPageSpeedCheck:   a.monitor.runPageSpeed,
		TriggerWordfenceSummary: a.monitor.runCycle(TriggerWordfenceSummary, a.monitor.wordfenceSummaryChecks),
		TriggerMenuDailyCheck:   a.monitor.runCycle(TriggerMenuDailyCheck, a.monitor.menuChecks),
	}
	for _, c := range cadences {
		added, err := a.sched.Schedule(c.name, c.anchor, c.period, bodies[c.name])
		if err != nil {
			return fmt.Errorf("schedule %s: %w", c.name, err)
		}
		if !added {
			a.log.Debug("trigger already registered", logx.String("name", c.name))
		}
	}
	return nil
}

// Fire runs a named trigger now, outside its cadence.
func (a *App) Fire(ctx context.Context, name string) error {
	return a.sched.Fire(ctx, name)
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if slices.Contains(sections, "telegram") || slices.Contains(sections, "logging") {
		a.logs.SetSender(newOpsSender(newCfg, a.log))
	}
	a.logs.Apply(mapLogConfig(newCfg))

	if tc, err := mapTelegramConfig(newCfg); err != nil {
		a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
	} else {
		a.tg.Apply(tc)
	}

	a.cur.Store(newView(newCfg, a.hc, a.log))

	prevEnabled := a.sched.Enabled()
	a.sched.Apply(scheduler.Config{Enabled: newCfg.SchedulerEnabled(), Timezone: newCfg.Timezone()})
	switch {
	case prevEnabled && !newCfg.SchedulerEnabled():
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && newCfg.SchedulerEnabled():
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

// Health is the /healthz body.
type Health struct {
	Site       string                 `json:"site"`
	Lanes      []queue.Snapshot       `json:"lanes"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Goroutines supervisor.Snapshot    `json:"goroutines"`
	Recent     []notifier.HistoryItem `json:"recent,omitempty"`
}

func (a *App) health(ctx context.Context) any {
	h := Health{
		Site:      a.view().cfg.SiteName(),
		Lanes:     []queue.Snapshot{a.alerts.Snapshot(ctx), a.psLane.Snapshot(ctx)},
		Scheduler: a.sched.Snapshot(),
		Recent:    a.notif.History(),
	}
	if a.sup != nil {
		h.Goroutines = a.sup.Snapshot()
	}
	return h
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Lanes finish the job in hand; a pagespeed batch is cut short by its context.
	step("supervisor", 10*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeResources releases the throttle, database and store.
func (a *App) closeResources() error {
	var errs []error
	if a.thr != nil {
		errs = append(errs, a.thr.Close())
		a.thr = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}
