package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sitewatch/internal/checks"
	"sitewatch/internal/config"
	"sitewatch/internal/hooks"
	"sitewatch/internal/pagespeed"
	"sitewatch/internal/throttle"
	logx "sitewatch/pkg/logx"
)

// alerter is the delivery surface of handlers and cycles.
// *notifier.Service implements it.
type alerter interface {
	SendNow(ctx context.Context, text string) error
	EnqueueKind(ctx context.Context, kind, text string) (string, error)
}

// batchQueue accepts pagespeed batches. *queue.Lane implements it.
type batchQueue interface {
	Enqueue(ctx context.Context, payload any) (string, error)
}

// siteDB is the WordPress database surface. *wordpress.DB implements it.
type siteDB interface {
	checks.Options
	checks.Orders
	checks.Scanner
	checks.MenuSource
	checks.Firewall
}

// snapshotStore keeps baselines between runs. storage.Store implements it.
type snapshotStore interface {
	checks.Snapshots
}

const (
	fatalResetHour = 8
	menuEventQuiet = 5 * time.Minute
)

// PHP error levels that stop the request: E_ERROR, E_PARSE, E_CORE_ERROR,
// E_COMPILE_ERROR.
var fatalTypes = map[int]bool{1: true, 4: true, 16: true, 64: true}

// monitor owns the hook handlers and the check cycles.
type monitor struct {
	view     func() *view
	alerts   alerter
	psq      batchQueue
	throttle *throttle.Throttle
	db       siteDB // nil when the database is not configured
	store    snapshotStore
	runner   *checks.Runner
	log      logx.Logger
}

func (m *monitor) register(r *hooks.Registry) {
	r.On(hooks.PluginActivated, m.onPlugin(config.PluginActivation, "Plugin activated"))
	r.On(hooks.PluginDeactivated, m.onPlugin(config.PluginDeactivation, "Plugin deactivated"))
	r.On(hooks.PluginDeleted, m.onPlugin(config.PluginDeletion, "Plugin deleted"))
	r.On(hooks.PluginInstalled, m.onPlugin(config.PluginInstallation, "Plugin installed"))
	r.On(hooks.PluginUpdated, m.onPlugin(config.PluginUpdate, "Plugin updated"))
	r.On(hooks.PluginActivated, m.onPluginActivatedPageSpeed)

	r.On(hooks.UserRegistered, m.onUserRegistered)
	r.On(hooks.UserLoggedIn, m.onUserLoggedIn)
	r.On(hooks.UserLoggedIn, m.onAdminNewIP)

	r.On(hooks.AddedToCart, m.onAddedToCart)
	r.On(hooks.OrderPlaced, m.onOrder(config.WooOrderPlaced, "New order placed: #%d\nTotal: %s %s\nUser: %s\nSite: %s"))
	r.On(hooks.PaymentCompleted, m.onOrder(config.WooPaymentCompleted, "Payment completed for order ID: %d\nTotal: %s %s\nUser: %s\nSite: %s"))

	r.On(hooks.CachePurged, m.onCachePurged)
	r.On(hooks.MailFailed, m.onMailFailed)
	r.On(hooks.FatalError, m.onFatal)

	r.On(hooks.MenuUpdated, m.onMenuUpdated)
	r.On(hooks.MenuCreated, m.onMenuCreated)
	r.On(hooks.MenuDeleted, m.onMenuDeleted)
}

func (m *monitor) enqueue(ctx context.Context, kind, text string) error {
	_, err := m.alerts.EnqueueKind(ctx, kind, text)
	return err
}

func (m *monitor) onPlugin(action, label string) hooks.Handler {
	return func(ctx context.Context, ev hooks.Event) error {
		v := m.view()
		if !v.settings.PluginNotify(action) {
			return nil
		}
		text := fmt.Sprintf("%s: %s\nUser: %s\nVersion: %s\nSite: %s",
			label, ev.Plugin.Name, ev.Actor.DisplayName("System"), ev.Plugin.Version, v.cfg.SiteName())
		return m.enqueue(ctx, "plugin", text)
	}
}

// onPluginActivatedPageSpeed queues a home page batch: a new plugin is the
// usual cause of a sudden score drop.
func (m *monitor) onPluginActivatedPageSpeed(ctx context.Context, ev hooks.Event) error {
	v := m.view()
	if !v.settings.PluginNotify(config.PluginActivation) || !v.settings.CheckEnabled("pagespeed") {
		return nil
	}
	planner := pagespeed.Planner{
		SiteURL:   v.cfg.Site.URL,
		Threshold: v.settings.PageSpeedThreshold,
		Attempts:  v.settings.PageSpeedAttempts,
		Log:       m.log,
	}
	b, err := planner.Plan(ctx)
	if err != nil {
		return err
	}
	id, err := m.psq.Enqueue(ctx, b)
	if err != nil {
		return err
	}
	m.log.Debug("pagespeed batch queued after activation", logx.String("job", id), logx.String("plugin", ev.Plugin.Name))
	return nil
}

func (m *monitor) onUserRegistered(ctx context.Context, ev hooks.Event) error {
	v := m.view()
	if !v.settings.UserNotify(config.UserRegistration) || ev.Actor.PrimaryRole() != "administrator" {
		return nil
	}
	text := fmt.Sprintf("New user registration: %s (Email: %s, ID: %d, User Role: %s)\nSite: %s",
		ev.Actor.Login, ev.Actor.Email, ev.Actor.ID, ev.Actor.PrimaryRole(), v.cfg.SiteName())
	return m.enqueue(ctx, "user", text)
}

func (m *monitor) onUserLoggedIn(ctx context.Context, ev hooks.Event) error {
	v := m.view()
	if !v.settings.UserNotify(config.UserLogin) || ev.Actor.PrimaryRole() != "administrator" {
		return nil
	}
	text := fmt.Sprintf("User logged in: %s (Email: %s, ID: %d)\nSite: %s",
		ev.Actor.Login, ev.Actor.Email, ev.Actor.ID, v.cfg.SiteName())
	return m.enqueue(ctx, "user", text)
}

func loginIPKey(userID int64) string { return fmt.Sprintf("login_ip:%d", userID) }

// onAdminNewIP warns when an administrator logs in from another address
// than last time. The first login only records the address.
func (m *monitor) onAdminNewIP(ctx context.Context, ev hooks.Event) error {
	if !ev.Actor.HasRole("administrator") || ev.Actor.ID == 0 {
		return nil
	}
	ip := firstIP(ev.IP)
	if ip == "" {
		return nil
	}
	key := loginIPKey(ev.Actor.ID)
	raw, _, ok, err := m.store.GetSnapshot(ctx, key)
	if err != nil {
		return err
	}
	var last string
	if ok {
		if err := json.Unmarshal(raw, &last); err != nil {
			last = ""
		}
	}
	cur, _ := json.Marshal(ip)
	if err := m.store.PutSnapshot(ctx, key, cur); err != nil {
		return err
	}
	if last == "" || last == ip {
		return nil
	}
	text := fmt.Sprintf("⚠️ Admin Login Alert: User '%s' has logged in from a new IP address.\n"+
		"Previous IP: %s\nCurrent IP: %s\nSite: %s",
		ev.Actor.Login, last, ip, m.view().cfg.SiteName())
	return m.enqueue(ctx, "user", text)
}

func (m *monitor) onAddedToCart(ctx context.Context, ev hooks.Event) error {
	v := m.view()
	if !v.settings.WooNotify(config.WooAddToCart) {
		return nil
	}
	text := fmt.Sprintf("Product added to cart:\n%s\nQuantity: %d\nSite: %s",
		ev.Cart.Product, ev.Cart.Quantity, v.cfg.SiteName())
	return m.enqueue(ctx, "woocommerce", text)
}

func (m *monitor) onOrder(kind, format string) hooks.Handler {
	return func(ctx context.Context, ev hooks.Event) error {
		v := m.view()
		if !v.settings.WooNotify(kind) {
			return nil
		}
		o := ev.Order
		text := fmt.Sprintf(format, o.ID, o.Total, o.Currency, o.BillingEmail, v.cfg.SiteName())
		return m.enqueue(ctx, "woocommerce", text)
	}
}

func (m *monitor) onCachePurged(ctx context.Context, ev hooks.Event) error {
	site := m.view().cfg.SiteName()
	text := fmt.Sprintf("The cache for %s has been flushed by %s.\nIP: %s\n"+
		"Please note that The site will be slower until the cache is fully rebuilt again.",
		site, ev.Actor.DisplayName("System Trigger"), firstIP(ev.IP))
	return m.enqueue(ctx, "cache", text)
}

func (m *monitor) onMailFailed(ctx context.Context, ev hooks.Event) error {
	subject := strings.TrimSpace(ev.Mail.Subject)
	if subject == "" {
		subject = "Unknown"
	}
	text := fmt.Sprintf("Email failed to send.\nSubject: %s\nError: %s", subject, ev.Mail.Error)
	return m.enqueue(ctx, "mail", text)
}

// onFatal reports a fatal PHP error once per message until the next 08:00
// site time. It sends synchronously: the request that died will not retry.
func (m *monitor) onFatal(ctx context.Context, ev hooks.Event) error {
	v := m.view()
	if v.settings.DisableErrorReporting || !fatalTypes[ev.Fatal.Type] {
		return nil
	}
	if !v.settings.AlertStaging && !isProductionHost(siteHost(v.cfg.Site.URL)) {
		m.log.Debug("fatal error on staging host not reported", logx.String("site", v.cfg.Site.URL))
		return nil
	}
	line := ev.Fatal.Text()
	gate := m.throttle.Gate("fatal", throttle.UntilNextLocal(fatalResetHour, v.loc))
	if gate.ShouldSuppress(ctx, line) {
		return nil
	}
	text := fmt.Sprintf("%s\nUser: %s\nSite: %s", line, ev.Actor.DisplayName(""), v.cfg.SiteName())
	return m.alerts.SendNow(ctx, text)
}

func (m *monitor) menuGate() *throttle.Gate {
	return m.throttle.Gate("menu_event", throttle.For(menuEventQuiet))
}

// onMenuUpdated runs the menu diff right away when the watched menu is
// saved.
func (m *monitor) onMenuUpdated(ctx context.Context, ev hooks.Event) error {
	v := m.view()
	slug := v.settings.Menu
	if slug == "" || m.db == nil || ev.Menu.Slug != slug {
		return nil
	}
	if m.menuGate().ShouldSuppress(ctx, "menu") {
		return nil
	}
	res := m.runner.Run(ctx, "menu_event", []checks.Check{m.menuCheck(v)})
	return m.deliverAlerts(ctx, res)
}

func (m *monitor) onMenuCreated(ctx context.Context, ev hooks.Event) error {
	if m.menuGate().ShouldSuppress(ctx, "menu") {
		return nil
	}
	name := ev.Menu.Name
	if name == "" {
		name = ev.Menu.Slug
	}
	return m.enqueue(ctx, "menu", fmt.Sprintf("New menu '%s' has been created", name))
}

func (m *monitor) onMenuDeleted(ctx context.Context, ev hooks.Event) error {
	if m.menuGate().ShouldSuppress(ctx, "menu") {
		return nil
	}
	return m.enqueue(ctx, "menu", fmt.Sprintf("A menu has been deleted (ID: %d)", ev.Menu.ID))
}

// firstIP keeps the client address of a forwarded-for style list.
func firstIP(s string) string {
	ip, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(ip)
}
