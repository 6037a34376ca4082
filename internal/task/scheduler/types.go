package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

// DefaultTimezone is used when Config.Timezone is empty.
const DefaultTimezone = "CET"

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ or abbreviation known to tzdata, e.g. "CET"
}

type Period int

const (
	Daily Period = iota
	// Hourly fires every hour at the anchor minute.
	Hourly
)

func (p Period) String() string {
	switch p {
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	default:
		return "unknown"
	}
}

// Func is a trigger body. ctx is canceled when the scheduler stops.
type Func func(ctx context.Context) error

type trigger struct {
	name    string
	anchor  string
	period  Period
	spec    string
	fn      Func
	entryID cron.EntryID

	runs    uint64
	lastErr string
	lastAt  time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
	defs   []*trigger

	// retired holds the stop contexts of crons replaced by a timezone change.
	retired []context.Context
}

type TriggerInfo struct {
	Name    string    `json:"name"`
	Anchor  string    `json:"anchor"`
	Period  string    `json:"period"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
	Runs    uint64    `json:"runs"`
	LastErr string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	Timezone string        `json:"timezone"`
	Triggers []TriggerInfo `json:"triggers"`
}

// FiredEvent is the payload of eventbus.TriggerFired.
type FiredEvent struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
