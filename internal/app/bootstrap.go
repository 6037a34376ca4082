package app

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"sitewatch/internal/checks"
	"sitewatch/internal/cloudflare"
	"sitewatch/internal/config"
	"sitewatch/internal/cpanel"
	"sitewatch/internal/pagespeed"
	"sitewatch/internal/wordpress"
	logx "sitewatch/pkg/logx"
)

// view is everything derived from one committed config. Handlers and cycles
// load it once per run; a reload swaps it whole.
type view struct {
	cfg      *config.Config
	settings config.Settings
	loc      *time.Location

	site  *checks.Site
	rest  *wordpress.REST
	cf    *cloudflare.Client
	quota *cpanel.Client
	ps    *pagespeed.Client
}

func newView(cfg *config.Config, hc *http.Client, log logx.Logger) *view {
	loc, err := time.LoadLocation(cfg.Timezone())
	if err != nil {
		log.Warn("invalid timezone; using UTC", logx.String("tz", cfg.Timezone()), logx.Err(err))
		loc = time.UTC
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := config.ParseDurationOrDefault(path, raw, def)
		if err != nil {
			return def
		}
		return d
	}

	return &view{
		cfg:      cfg,
		settings: cfg.ResolveSettings(),
		loc:      loc,
		site: &checks.Site{
			URL:     cfg.Site.URL,
			Name:    cfg.SiteName(),
			HTTP:    hc,
			Timeout: 30 * time.Second,
		},
		rest: &wordpress.REST{
			BaseURL: cfg.RESTBase(),
			Timeout: dur("wordpress.rest_timeout", cfg.WordPress.RESTTimeout, 30*time.Second),
			HTTP:    hc,
		},
		cf: &cloudflare.Client{
			Token:   cfg.Cloudflare.APIToken,
			APIBase: cfg.Cloudflare.APIBase,
			Timeout: dur("cloudflare.timeout", cfg.Cloudflare.Timeout, cloudflare.DefaultTimeout),
			HTTP:    hc,
		},
		quota: cpanel.New(cpanel.Config{
			Host:               cfg.Cpanel.Host,
			Port:               cfg.Cpanel.Port,
			User:               cfg.Cpanel.User,
			Token:              cfg.Cpanel.Token,
			InsecureSkipVerify: cfg.Cpanel.InsecureSkipVerify,
			Timeout:            dur("cpanel.timeout", cfg.Cpanel.Timeout, cpanel.DefaultTimeout),
		}),
		ps: &pagespeed.Client{
			APIKey:   cfg.PageSpeed.APIKey,
			Endpoint: cfg.PageSpeed.Endpoint,
			Timeout:  dur("pagespeed.timeout", cfg.PageSpeed.Timeout, pagespeed.DefaultTimeout),
			HTTP:     hc,
		},
	}
}

func mapDBConfig(cfg *config.Config) (wordpress.DBConfig, error) {
	timeout, err := config.ParseDurationOrDefault("wordpress.db_timeout", cfg.WordPress.DBTimeout, 10*time.Second)
	if err != nil {
		return wordpress.DBConfig{}, err
	}
	return wordpress.DBConfig{
		DSN:         cfg.WordPress.DSN,
		Host:        cfg.WordPress.Host,
		User:        cfg.WordPress.User,
		Password:    cfg.WordPress.Password,
		Name:        cfg.WordPress.Name,
		TablePrefix: cfg.WordPress.TablePrefix,
		Timeout:     timeout,
	}, nil
}

// siteHost is the lower-case hostname of the site URL.
func siteHost(siteURL string) string {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// isProductionHost reports whether host is the public site rather than a
// staging copy: a "www." host, or a registrable domain with no subdomain
// (example.com, example.co.uk).
func isProductionHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	if strings.HasPrefix(host, "www.") {
		return true
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1 == host
	}
	return strings.Count(host, ".") == 1
}
