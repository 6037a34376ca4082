package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Telegram sends messages through the Bot API sendMessage method.
// It is safe for concurrent use; Apply swaps credentials at runtime.
type Telegram struct {
	mu      sync.RWMutex
	cfg     TelegramConfig
	limiter *rate.Limiter
	hc      *http.Client
}

func NewTelegram(cfg TelegramConfig, hc *http.Client) *Telegram {
	if hc == nil {
		hc = &http.Client{}
	}
	t := &Telegram{hc: hc}
	t.Apply(cfg)
	return t
}

func (t *Telegram) Apply(cfg TelegramConfig) {
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.ChatID = strings.TrimSpace(cfg.ChatID)
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	lim := rate.NewLimiter(rate.Limit(1), 3)
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	t.mu.Lock()
	t.cfg = cfg
	t.limiter = lim
	t.mu.Unlock()
}

func (t *Telegram) Configured() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send delivers text, split into chunks if longer than the Bot API allows.
// It returns the number of chunks delivered.
func (t *Telegram) Send(ctx context.Context, text string) (int, error) {
	t.mu.RLock()
	cfg := t.cfg
	lim := t.limiter
	t.mu.RUnlock()

	if cfg.BotToken == "" || cfg.ChatID == "" {
		return 0, ErrNotConfigured
	}

	sent := 0
	for _, chunk := range splitText(text, telegramTextLimit, "HTML") {
		if err := lim.Wait(ctx); err != nil {
			return sent, err
		}
		if err := t.post(ctx, cfg, chunk); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (t *Telegram) post(ctx context.Context, cfg TelegramConfig, text string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("chat_id", cfg.ChatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	endpoint := cfg.APIBase + "/bot" + cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.hc.Do(req)
	if err != nil {
		// url.Error embeds the endpoint, which carries the token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram send: %w", uerr.Err)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram read: %w", err)
	}
	var out sendMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("%w: status %d, unparsable body", ErrRejected, resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("%w: %d %s", ErrRejected, out.ErrorCode, out.Description)
	}
	return nil
}
