package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/eventbus"
	"sitewatch/internal/storage"
	logx "sitewatch/pkg/logx"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "q.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestEnqueueDoesNotExecute(t *testing.T) {
	t.Parallel()

	called := false
	l, err := New(Config{Name: "alerts"}, newStore(t), func(context.Context, Job) error {
		called = true
		return nil
	}, logx.Nop(), nil)
	require.NoError(t, err)

	id, err := l.Enqueue(context.Background(), "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.False(t, called)
	assert.Equal(t, 1, l.Snapshot(context.Background()).Pending)
}

func TestDispatchRunsFIFOAndRemovesEveryJob(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	var seen []string
	l, err := New(Config{Name: "alerts"}, st, func(_ context.Context, j Job) error {
		var text string
		require.NoError(t, j.Decode(&text))
		seen = append(seen, text)
		switch text {
		case "fails":
			return errors.New("telegram down")
		case "panics":
			panic("bad payload")
		}
		return nil
	}, logx.Nop(), bus)
	require.NoError(t, err)

	ctx := context.Background()
	for _, p := range []string{"first", "fails", "panics", "last"} {
		_, err := l.Enqueue(ctx, p)
		require.NoError(t, err)
	}

	n, err := l.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"first", "fails", "panics", "last"}, seen)

	pending, err := st.CountJobs(ctx, "alerts", storage.JobQueued)
	require.NoError(t, err)
	assert.Zero(t, pending)
	dispatched, err := st.CountJobs(ctx, "alerts", storage.JobDispatched)
	require.NoError(t, err)
	assert.Zero(t, dispatched)

	snap := l.Snapshot(ctx)
	assert.EqualValues(t, 2, snap.Processed)
	assert.EqualValues(t, 2, snap.Failed)
	assert.Len(t, snap.History, 4)

	failed := 0
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.JobFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)

	// A second dispatch finds nothing to do.
	n, err = l.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentDispatchIsRejected(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	l, err := New(Config{Name: "pagespeed"}, newStore(t), func(context.Context, Job) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, logx.Nop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = l.Enqueue(ctx, map[string]string{"home": "https://example.com"})
	require.NoError(t, err)

	done := make(chan int)
	go func() {
		n, _ := l.Dispatch(ctx)
		done <- n
	}()
	<-started

	_, err = l.Dispatch(ctx)
	assert.ErrorIs(t, err, ErrDispatchInFlight)
	assert.True(t, l.Snapshot(ctx).InFlight)

	close(release)
	assert.Equal(t, 1, <-done)
}

func TestRecoverDropsDispatchedJobs(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.EnqueueJob(ctx, storage.Job{ID: "stale", Lane: "alerts", Payload: []byte(`"x"`)}))
	_, ok, err := st.ClaimNextJob(ctx, "alerts", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ran := false
	l, err := New(Config{Name: "alerts"}, st, func(context.Context, Job) error {
		ran = true
		return nil
	}, logx.Nop(), nil)
	require.NoError(t, err)

	n, err := l.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	processed, err := l.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.False(t, ran)
	assert.EqualValues(t, 1, l.Snapshot(ctx).Abandoned)
}

func TestRunDrainsOnWake(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	l, err := New(Config{Name: "alerts"}, newStore(t), func(_ context.Context, j Job) error {
		var s string
		_ = j.Decode(&s)
		got <- s
		return nil
	}, logx.Nop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	_, err = l.Enqueue(ctx, "ping")
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(2 * time.Second):
		t.Fatal("lane did not dispatch after enqueue")
	}

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Name: "alerts"}, nil, func(context.Context, Job) error { return nil }, logx.Nop(), nil)
	assert.ErrorIs(t, err, ErrNoStore)

	_, err = New(Config{}, newStore(t), func(context.Context, Job) error { return nil }, logx.Nop(), nil)
	assert.Error(t, err)
}
