package config

// Config is the whole daemon configuration. It is read from a YAML or JSON
// file, then secrets and endpoints may be overridden by SITEWATCH_*
// environment variables.
type Config struct {
	Site       SiteConfig       `json:"site" envPrefix:"SITE_"`
	Telegram   TelegramConfig   `json:"telegram" envPrefix:"TELEGRAM_"`
	Logging    LoggingConfig    `json:"logging" envPrefix:"LOG_"`
	Storage    StorageConfig    `json:"storage" envPrefix:"STORAGE_"`
	Throttle   ThrottleConfig   `json:"throttle" envPrefix:"THROTTLE_"`
	Queue      QueueConfig      `json:"queue"`
	Scheduler  SchedulerConfig  `json:"scheduler" envPrefix:"SCHEDULER_"`
	Settings   SettingsConfig   `json:"settings"`
	PageSpeed  PageSpeedConfig  `json:"pagespeed" envPrefix:"PAGESPEED_"`
	Cloudflare CloudflareConfig `json:"cloudflare" envPrefix:"CLOUDFLARE_"`
	Cpanel     CpanelConfig     `json:"cpanel" envPrefix:"CPANEL_"`
	WordPress  WordPressConfig  `json:"wordpress" envPrefix:"WP_"`
	Ingest     IngestConfig     `json:"ingest" envPrefix:"INGEST_"`
}

// SiteConfig identifies the monitored site. Name defaults to the URL host.
type SiteConfig struct {
	URL  string `json:"url" env:"URL"`
	Name string `json:"name,omitempty" env:"NAME"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token" env:"BOT_TOKEN"`
	ChatID   string `json:"chat_id" env:"CHAT_ID"`
	// OpsChatID receives mirrored log records. Empty means ChatID.
	OpsChatID  string  `json:"ops_chat_id,omitempty" env:"OPS_CHAT_ID"`
	APIBase    string  `json:"api_base,omitempty" env:"API_BASE"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" env:"LEVEL"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./sitewatch.db }
type StorageConfig struct {
	Driver      string `json:"driver" env:"DRIVER"`
	Path        string `json:"path" env:"PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ThrottleConfig selects where suppression windows live. The default keeps
// them in the store; "redis" shares them between daemons.
type ThrottleConfig struct {
	Driver string      `json:"driver,omitempty" env:"DRIVER"`
	Redis  RedisConfig `json:"redis,omitempty" envPrefix:"REDIS_"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty" env:"ADDR"`
	Password string `json:"password,omitempty" env:"PASSWORD"`
	DB       int    `json:"db,omitempty" env:"DB"`
	Prefix   string `json:"prefix,omitempty"`
}

type QueueConfig struct {
	// SafetyInterval re-runs each lane periodically in case a wake was lost.
	SafetyInterval string `json:"safety_interval,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// SchedulerConfig controls the named triggers. Enabled is a pointer so an
// omitted key keeps the default (on).
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty" env:"TIMEZONE"`
}

// SettingsConfig holds the operator toggles and thresholds. See Settings for
// the resolved view with defaults applied.
type SettingsConfig struct {
	// Checks toggles checks by name. A missing name is enabled.
	Checks map[string]bool `json:"checks,omitempty"`

	PluginNotifications      []string `json:"plugin_notifications,omitempty"`
	UserNotifications        []string `json:"user_notifications,omitempty"`
	WooCommerceNotifications []string `json:"woocommerce_notifications,omitempty"`

	PageSpeedThreshold     int     `json:"pagespeed_threshold,omitempty"`
	PageSpeedAttempts      int     `json:"pagespeed_attempts,omitempty"`
	WordfenceSeverityLevel string  `json:"wordfence_severity_level,omitempty"`
	CpanelThreshold        float64 `json:"cpanel_threshold,omitempty"`
	Menu                   string  `json:"menu,omitempty"`

	AlertStaging          bool `json:"alert_staging,omitempty"`
	DisableErrorReporting bool `json:"disable_error_reporting,omitempty"`
}

type PageSpeedConfig struct {
	APIKey   string `json:"api_key" env:"API_KEY"`
	Endpoint string `json:"endpoint,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type CloudflareConfig struct {
	APIToken string `json:"api_token" env:"API_TOKEN"`
	APIBase  string `json:"api_base,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type CpanelConfig struct {
	Host               string `json:"host" env:"HOST"`
	Port               int    `json:"port,omitempty"`
	User               string `json:"user" env:"USER"`
	Token              string `json:"token" env:"TOKEN"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	Timeout            string `json:"timeout,omitempty"`
}

// WordPressConfig points at the site's database and REST API. DSN wins over
// the discrete fields when set.
type WordPressConfig struct {
	DSN         string `json:"dsn,omitempty" env:"DB_DSN"`
	Host        string `json:"db_host,omitempty" env:"DB_HOST"`
	User        string `json:"db_user,omitempty" env:"DB_USER"`
	Password    string `json:"db_password,omitempty" env:"DB_PASSWORD"`
	Name        string `json:"db_name,omitempty" env:"DB_NAME"`
	TablePrefix string `json:"table_prefix,omitempty" env:"TABLE_PREFIX"`
	DBTimeout   string `json:"db_timeout,omitempty"`
	// RESTBase defaults to {site.url}/wp-json.
	RESTBase    string `json:"rest_base,omitempty" env:"REST_BASE"`
	RESTTimeout string `json:"rest_timeout,omitempty"`
}

// IngestConfig controls the endpoint WordPress posts hook events to.
// An empty Addr disables it.
type IngestConfig struct {
	Addr  string `json:"addr,omitempty" env:"ADDR"`
	Token string `json:"token,omitempty" env:"TOKEN"`
	// Pprof mounts /debug/pprof/ on the ingest listener.
	Pprof bool `json:"pprof,omitempty"`
}
