package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sitewatch/internal/config"
	"sitewatch/internal/notifier"
	"sitewatch/internal/queue"
	"sitewatch/internal/storage"
	"sitewatch/internal/throttle"
	"sitewatch/internal/transport/telegram"
	logx "sitewatch/pkg/logx"
)

const (
	laneAlerts    = "alerts"
	lanePageSpeed = "pagespeed"
)

// errNoStore is returned when storage.driver is "none": both lanes persist
// their jobs, so the daemon cannot run without a store.
var errNoStore = errors.New("storage.driver none is not supported: the job lanes need a store")

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "none" {
		return storage.Config{}, errNoStore
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./sitewatch.journal"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./sitewatch.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapThrottleConfig(cfg *config.Config) throttle.Config {
	return throttle.Config{
		Driver: cfg.Throttle.Driver,
		Redis: throttle.RedisConfig{
			Addr:     cfg.Throttle.Redis.Addr,
			Password: cfg.Throttle.Redis.Password,
			DB:       cfg.Throttle.Redis.DB,
			Prefix:   cfg.Throttle.Redis.Prefix,
		},
	}
}

func mapQueueConfig(cfg *config.Config, name string) (queue.Config, error) {
	safety, err := config.ParseDurationOrDefault("queue.safety_interval", cfg.Queue.SafetyInterval, time.Hour)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{Name: name, SafetyInterval: safety, HistorySize: cfg.Queue.HistorySize}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (notifier.TelegramConfig, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, notifier.DefaultTimeout)
	if err != nil {
		return notifier.TelegramConfig{}, err
	}
	return notifier.TelegramConfig{
		BotToken:   cfg.Telegram.BotToken,
		ChatID:     cfg.Telegram.ChatID,
		APIBase:    cfg.Telegram.APIBase,
		Timeout:    timeout,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, nil
}

// newOpsSender builds the log mirror transport. It returns nil when the
// ops sink is off or the bot is not configured.
func newOpsSender(cfg *config.Config, log logx.Logger) logx.Sender {
	if !cfg.Logging.Telegram.Enabled || strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return nil
	}
	chat := strings.TrimSpace(cfg.Telegram.OpsChatID)
	if chat == "" {
		chat = cfg.Telegram.ChatID
	}
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		log.Warn("telegram ops sink disabled", logx.Err(err))
		return nil
	}
	s, err := telegram.NewOpsSender(telegram.Config{
		Token:   cfg.Telegram.BotToken,
		ChatID:  chat,
		APIBase: cfg.Telegram.APIBase,
		Timeout: tc.Timeout,
	}, log)
	if err != nil {
		log.Warn("telegram ops sink disabled", logx.Err(err))
		return nil
	}
	return s
}
