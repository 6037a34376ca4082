// Package telegram delivers operational log records to a Telegram chat
// through telebot. It backs the logx ops sink; alert delivery lives in
// internal/notifier.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "sitewatch/pkg/logx"
)

type Config struct {
	Token   string
	ChatID  string
	APIBase string // empty means the public Bot API
	Timeout time.Duration
}

// OpsSender implements logx.Sender.
type OpsSender struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

var _ logx.Sender = (*OpsSender)(nil)

func NewOpsSender(cfg Config, log logx.Logger) (*OpsSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram ops chat id %q: %w", cfg.ChatID, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	// Offline skips getMe; the ops path must not block startup on the network.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIBase, "/"),
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpsSender{bot: b, chat: &tele.Chat{ID: chatID}, log: log}, nil
}

// SendLog posts text as plain text. telebot has no per-call context, so ctx
// only short-circuits sends that were already canceled.
func (s *OpsSender) SendLog(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
