package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sitewatch/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and returns log
// fields describing the new values. Secrets only ever appear as *_set flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	present := func(s string) bool { return strings.TrimSpace(s) != "" }

	if oldCfg.Site != newCfg.Site {
		changed = append(changed, "site")
		attrs = append(attrs, logx.String("site.name", newCfg.SiteName()))
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.bot_token_set", present(newCfg.Telegram.BotToken)),
			logx.Bool("telegram.chat_id_set", present(newCfg.Telegram.ChatID)),
			logx.Bool("telegram.ops_chat_id_set", present(newCfg.Telegram.OpsChatID)),
			logx.Float64("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", present(newCfg.Storage.Path)),
		)
	}

	if oldCfg.Throttle != newCfg.Throttle {
		changed = append(changed, "throttle")
		attrs = append(attrs,
			logx.String("throttle.driver", newCfg.Throttle.Driver),
			logx.Bool("throttle.redis_password_set", present(newCfg.Throttle.Redis.Password)),
		)
	}

	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs, logx.String("queue.safety_interval", newCfg.Queue.SafetyInterval))
	}

	if oldCfg.SchedulerEnabled() != newCfg.SchedulerEnabled() || oldCfg.Timezone() != newCfg.Timezone() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
			logx.String("scheduler.timezone", newCfg.Timezone()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Settings, newCfg.Settings) {
		changed = append(changed, "settings")
		s := newCfg.ResolveSettings()
		attrs = append(attrs,
			logx.Int("settings.pagespeed_threshold", s.PageSpeedThreshold),
			logx.String("settings.wordfence_severity_level", s.WordfenceSeverity),
			logx.String("settings.menu", s.Menu),
			logx.Int("settings.checks_disabled", countOff(newCfg.Settings.Checks)),
		)
	}

	if oldCfg.PageSpeed != newCfg.PageSpeed {
		changed = append(changed, "pagespeed")
		attrs = append(attrs, logx.Bool("pagespeed.api_key_set", present(newCfg.PageSpeed.APIKey)))
	}
	if oldCfg.Cloudflare != newCfg.Cloudflare {
		changed = append(changed, "cloudflare")
		attrs = append(attrs, logx.Bool("cloudflare.api_token_set", present(newCfg.Cloudflare.APIToken)))
	}
	if oldCfg.Cpanel != newCfg.Cpanel {
		changed = append(changed, "cpanel")
		attrs = append(attrs,
			logx.String("cpanel.host", newCfg.Cpanel.Host),
			logx.Bool("cpanel.token_set", present(newCfg.Cpanel.Token)),
		)
	}
	if oldCfg.WordPress != newCfg.WordPress {
		changed = append(changed, "wordpress")
		attrs = append(attrs,
			logx.Bool("wordpress.dsn_set", present(newCfg.WordPress.DSN)),
			logx.String("wordpress.db_host", newCfg.WordPress.Host),
			logx.String("wordpress.rest_base", newCfg.RESTBase()),
		)
	}
	if oldCfg.Ingest != newCfg.Ingest {
		changed = append(changed, "ingest")
		attrs = append(attrs,
			logx.String("ingest.addr", newCfg.Ingest.Addr),
			logx.Bool("ingest.token_set", present(newCfg.Ingest.Token)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func countOff(m map[string]bool) int {
	n := 0
	for _, v := range m {
		if !v {
			n++
		}
	}
	return n
}
