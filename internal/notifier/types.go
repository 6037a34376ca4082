package notifier

import (
	"errors"
	"time"
)

var (
	// ErrNotConfigured means the bot token or chat id is empty. No request is made.
	ErrNotConfigured = errors.New("notifier: telegram not configured")
	// ErrRejected means the Bot API answered without ok=true.
	ErrRejected = errors.New("notifier: telegram rejected message")
	ErrNoQueue  = errors.New("notifier: alerts lane not attached")
)

const (
	DefaultAPIBase = "https://api.telegram.org"
	DefaultTimeout = 30 * time.Second

	// telegramTextLimit stays under the Bot API's 4096 limit to leave room for entities.
	telegramTextLimit = 4000
)

type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
	// RatePerSec bounds outbound sendMessage calls. 0 means 1/s with burst 3.
	RatePerSec float64
}

// Message is the alerts lane payload.
type Message struct {
	Text string `json:"text"`
	Kind string `json:"kind,omitempty"`
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Kind  string    `json:"kind,omitempty"`
	Text  string    `json:"text"`
	Error string    `json:"error,omitempty"`
}

// DeliveryEvent is published as notifier.sent / notifier.failed.
type DeliveryEvent struct {
	Kind   string        `json:"kind,omitempty"`
	JobID  string        `json:"job_id,omitempty"`
	Chunks int           `json:"chunks"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}
