package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every override variable, e.g.
// SITEWATCH_TELEGRAM_BOT_TOKEN or SITEWATCH_WP_DB_PASSWORD.
const EnvPrefix = "SITEWATCH_"

// ApplyEnv overrides cfg fields from the environment. Unset variables leave
// the file values untouched.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, nil)
}

func applyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}
