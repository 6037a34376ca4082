package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var severityLevels = map[string]bool{"none": true, "low": true, "medium": true, "high": true, "critical": true}

// Validate rejects configs the daemon cannot start with. Missing credentials
// for optional integrations are not errors; those checks go quiet instead.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(strings.TrimSpace(c.Site.URL))
	switch {
	case strings.TrimSpace(c.Site.URL) == "":
		errs = append(errs, errors.New("site.url: required"))
	case err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
		errs = append(errs, fmt.Errorf("site.url: invalid url %q", c.Site.URL))
	}

	if _, err := time.LoadLocation(c.Timezone()); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(c.Throttle.Driver)) {
	case "", "store":
	case "redis":
		if strings.TrimSpace(c.Throttle.Redis.Addr) == "" {
			errs = append(errs, errors.New("throttle.redis.addr: required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("throttle.driver: unknown driver %q", c.Throttle.Driver))
	}

	if lvl := strings.ToLower(strings.TrimSpace(c.Settings.WordfenceSeverityLevel)); lvl != "" && !severityLevels[lvl] {
		errs = append(errs, fmt.Errorf("settings.wordfence_severity_level: unknown level %q", c.Settings.WordfenceSeverityLevel))
	}
	if t := c.Settings.PageSpeedThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("settings.pagespeed_threshold: %d out of range 0..100", t))
	}
	if t := c.Settings.CpanelThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("settings.cpanel_threshold: %v out of range 0..100", t))
	}

	if strings.TrimSpace(c.Ingest.Addr) != "" && strings.TrimSpace(c.Ingest.Token) == "" {
		errs = append(errs, errors.New("ingest.token: required when ingest.addr is set"))
	}

	for path, raw := range map[string]string{
		"telegram.timeout":       c.Telegram.Timeout,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
		"queue.safety_interval":  c.Queue.SafetyInterval,
		"pagespeed.timeout":      c.PageSpeed.Timeout,
		"cloudflare.timeout":     c.Cloudflare.Timeout,
		"cpanel.timeout":         c.Cpanel.Timeout,
		"wordpress.db_timeout":   c.WordPress.DBTimeout,
		"wordpress.rest_timeout": c.WordPress.RESTTimeout,
	} {
		if _, err := ParseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
