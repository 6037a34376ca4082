package config

import (
	"net/url"
	"strings"
)

const (
	DefaultTimezone           = "CET"
	DefaultPageSpeedThreshold = 90
	DefaultPageSpeedAttempts  = 3
	DefaultWordfenceSeverity  = "critical"
	DefaultCpanelThreshold    = 90
)

// Notification list values.
const (
	PluginActivation   = "activation"
	PluginDeactivation = "deactivation"
	PluginDeletion     = "deletion"
	PluginInstallation = "installation"
	PluginUpdate       = "update"

	UserRegistration = "registration"
	UserLogin        = "login"

	WooAddToCart        = "add_to_cart"
	WooOrderPlaced      = "order_placed"
	WooPaymentCompleted = "payment_completed"
)

// Settings is the resolved, read-only view of SettingsConfig with defaults
// applied. It is rebuilt on every reload and safe to share.
type Settings struct {
	checks map[string]bool
	plugin map[string]bool
	user   map[string]bool
	woo    map[string]bool

	PageSpeedThreshold    int
	PageSpeedAttempts     int
	WordfenceSeverity     string
	CpanelThreshold       float64
	Menu                  string
	AlertStaging          bool
	DisableErrorReporting bool
}

func (c *Config) ResolveSettings() Settings {
	in := c.Settings
	s := Settings{
		checks:                make(map[string]bool, len(in.Checks)),
		plugin:                set(in.PluginNotifications),
		user:                  set(in.UserNotifications),
		woo:                   set(in.WooCommerceNotifications),
		PageSpeedThreshold:    in.PageSpeedThreshold,
		PageSpeedAttempts:     in.PageSpeedAttempts,
		WordfenceSeverity:     strings.ToLower(strings.TrimSpace(in.WordfenceSeverityLevel)),
		CpanelThreshold:       in.CpanelThreshold,
		Menu:                  strings.TrimSpace(in.Menu),
		AlertStaging:          in.AlertStaging,
		DisableErrorReporting: in.DisableErrorReporting,
	}
	for k, v := range in.Checks {
		s.checks[strings.ToLower(strings.TrimSpace(k))] = v
	}
	// The settings form historically posted "order_completed".
	if s.woo["order_completed"] {
		s.woo[WooPaymentCompleted] = true
	}
	if s.PageSpeedThreshold <= 0 {
		s.PageSpeedThreshold = DefaultPageSpeedThreshold
	}
	if s.PageSpeedAttempts <= 0 {
		s.PageSpeedAttempts = DefaultPageSpeedAttempts
	}
	if s.WordfenceSeverity == "" {
		s.WordfenceSeverity = DefaultWordfenceSeverity
	}
	if s.CpanelThreshold <= 0 {
		s.CpanelThreshold = DefaultCpanelThreshold
	}
	return s
}

// CheckEnabled reports whether the named check should run. Checks are on
// unless explicitly switched off.
func (s Settings) CheckEnabled(name string) bool {
	v, ok := s.checks[name]
	return !ok || v
}

func (s Settings) PluginNotify(action string) bool { return s.plugin[action] }
func (s Settings) UserNotify(kind string) bool     { return s.user[kind] }
func (s Settings) WooNotify(kind string) bool      { return s.woo[kind] }

func set(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, v := range list {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			m[v] = true
		}
	}
	return m
}

// SiteName is the configured site name, or the URL host without "www.".
func (c *Config) SiteName() string {
	if n := strings.TrimSpace(c.Site.Name); n != "" {
		return n
	}
	u, err := url.Parse(strings.TrimSpace(c.Site.URL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(c.Site.URL)
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Timezone is the scheduler zone with the default applied.
func (c *Config) Timezone() string {
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// RESTBase is the WordPress REST root.
func (c *Config) RESTBase() string {
	if b := strings.TrimSpace(c.WordPress.RESTBase); b != "" {
		return strings.TrimRight(b, "/")
	}
	return strings.TrimRight(strings.TrimSpace(c.Site.URL), "/") + "/wp-json"
}
