package throttle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sitewatch/internal/eventbus"
	"sitewatch/internal/storage"
	logx "sitewatch/pkg/logx"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Config struct {
	// Driver is "store" (default) or "redis".
	Driver string
	Redis  RedisConfig
}

type Throttle struct {
	backend Backend
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	closer  func() error
}

// Open builds a Throttle on the configured backend.
func Open(ctx context.Context, cfg Config, store storage.Store, log logx.Logger, bus eventbus.Bus) (*Throttle, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "store":
		b, err := NewStoreBackend(store)
		if err != nil {
			return nil, fmt.Errorf("throttle: store backend: %w", err)
		}
		return New(b, log, bus), nil
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return nil, errors.New("throttle: redis addr is required")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("throttle: redis ping: %w", err)
		}
		prefix := cfg.Redis.Prefix
		if prefix == "" {
			prefix = "sitewatch:throttle:"
		}
		rb := NewRedisBackend(rdb, prefix)
		t := New(rb, log, bus)
		t.closer = rb.Close
		return t, nil
	default:
		return nil, fmt.Errorf("throttle: unknown driver %q", cfg.Driver)
	}
}

func New(backend Backend, log logx.Logger, bus eventbus.Bus) *Throttle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Throttle{backend: backend, log: log.With(logx.String("comp", "throttle")), bus: bus, now: time.Now}
}

// SetClock replaces the time source used to open and check windows.
func (t *Throttle) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

func (t *Throttle) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer()
}

// Gate returns a suppression gate for one alert kind.
func (t *Throttle) Gate(kind string, policy Policy) *Gate {
	return &Gate{t: t, kind: kind, policy: policy}
}

type Gate struct {
	t      *Throttle
	kind   string
	policy Policy
}

// Key is the stored key for content.
func (g *Gate) Key(content string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("%s:%016x", g.kind, h.Sum64())
}

// ShouldSuppress reports true while a window for content is open. Otherwise
// it opens a new window and reports false. Backend errors never suppress.
func (g *Gate) ShouldSuppress(ctx context.Context, content string) bool {
	key := g.Key(content)
	now := g.t.now()
	reserved, err := g.t.backend.Reserve(ctx, key, g.policy(now), now)
	if err != nil {
		g.t.log.Warn("throttle backend failed; not suppressing", logx.String("kind", g.kind), logx.Err(err))
		return false
	}
	if !reserved {
		g.t.log.Debug("suppressed", logx.String("kind", g.kind), logx.String("key", key))
		if g.t.bus != nil {
			g.t.bus.Publish(eventbus.Event{Type: eventbus.NotifySuppressed, Time: now, Data: key})
		}
	}
	return !reserved
}

// Clear closes the window for content.
func (g *Gate) Clear(ctx context.Context, content string) error {
	return g.t.backend.Clear(ctx, g.Key(content))
}
