package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/eventbus"
	logx "sitewatch/pkg/logx"
)

func noop(context.Context) error { return nil }

func TestScheduleIsIdempotentByName(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)

	calls := 0
	first := func(context.Context) error { calls++; return nil }
	ok, err := s.Schedule("daily_check", "08:00", Daily, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Schedule("daily_check", "09:30", Hourly, noop)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := s.Snapshot()
	require.Len(t, snap.Triggers, 1)
	assert.Equal(t, "0 8 * * *", snap.Triggers[0].Spec)

	require.NoError(t, s.Fire(context.Background(), "daily_check"))
	assert.Equal(t, 1, calls)
}

func TestCronSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		anchor string
		period Period
		want   string
		err    bool
	}{
		{"08:00", Daily, "0 8 * * *", false},
		{"09:15", Daily, "15 9 * * *", false},
		{"08:05", Hourly, "5 * * * *", false},
		{"24:00", Daily, "", true},
		{"8", Daily, "", true},
		{"08:60", Hourly, "", true},
	}
	for _, tc := range cases {
		got, err := cronSpec(tc.anchor, tc.period)
		if tc.err {
			assert.Error(t, err, tc.anchor)
			continue
		}
		require.NoError(t, err, tc.anchor)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextFireIsInSiteTimezone(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	_, err := s.Schedule("pagespeed_check", "09:00", Daily, noop)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "UTC", snap.Timezone)
	require.Len(t, snap.Triggers, 1)
	next := snap.Triggers[0].Next.In(time.UTC)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestUnscheduleAndRegistered(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, err := s.Schedule("hourly_check", "00:00", Hourly, noop)
	require.NoError(t, err)
	assert.True(t, s.Registered("hourly_check"))

	assert.True(t, s.Unschedule("hourly_check"))
	assert.False(t, s.Unschedule("hourly_check"))
	assert.False(t, s.Registered("hourly_check"))

	// Name is free again.
	ok, err := s.Schedule("hourly_check", "00:00", Hourly, noop)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFirePublishesOutcome(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	_, err := s.Schedule("menu_daily_check", "08:00", Daily, func(context.Context) error {
		return errors.New("db down")
	})
	require.NoError(t, err)

	err = s.Fire(context.Background(), "menu_daily_check")
	assert.EqualError(t, err, "db down")

	e := <-events
	assert.Equal(t, eventbus.TriggerFired, e.Type)
	fired, ok := e.Data.(FiredEvent)
	require.True(t, ok)
	assert.Equal(t, "menu_daily_check", fired.Name)
	assert.Equal(t, "db down", fired.Error)

	assert.ErrorIs(t, s.Fire(context.Background(), "missing"), ErrUnknownTrigger)
	assert.Equal(t, "db down", s.Snapshot().Triggers[0].LastErr)
}

func TestDisabledSchedulerDoesNotRun(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, logx.Nop(), nil)
	_, err := s.Schedule("daily_check", "08:00", Daily, noop)
	require.NoError(t, err)
	s.Start(context.Background())
	assert.False(t, s.Snapshot().Running)
	s.Stop(context.Background())
}

func TestApplyTimezoneWhileTriggerRuns(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	_, err := s.Schedule("hourly_check", "00:00", Hourly, func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	require.NoError(t, err)
	s.Start(context.Background())

	// Re-arm the trigger every second so a body is in flight quickly.
	s.mu.Lock()
	d := s.findLocked("hourly_check")
	s.c.Remove(d.entryID)
	d.entryID = s.c.Schedule(cron.Every(time.Second), s.cronJob(d))
	s.mu.Unlock()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("trigger did not start")
	}

	applied := make(chan struct{})
	go func() {
		s.Apply(Config{Enabled: true, Timezone: "Europe/Copenhagen"})
		close(applied)
	}()
	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		close(release)
		t.Fatal("Apply blocked on a running trigger")
	}
	assert.True(t, s.Registered("hourly_check"))
	assert.Equal(t, "Europe/Copenhagen", s.Snapshot().Timezone)

	close(release)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	require.NoError(t, stopCtx.Err(), "Stop waits for the retired cron")
	assert.GreaterOrEqual(t, s.Snapshot().Triggers[0].Runs, uint64(1))
}
