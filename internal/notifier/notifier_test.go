package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/eventbus"
	"sitewatch/internal/queue"
	"sitewatch/internal/storage"
	logx "sitewatch/pkg/logx"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	texts []string
	forms []map[string]string
	paths []string
	reply string
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.texts = append(f.texts, r.PostForm.Get("text"))
	f.forms = append(f.forms, map[string]string{
		"chat_id":      r.PostForm.Get("chat_id"),
		"parse_mode":   r.PostForm.Get("parse_mode"),
		"content_type": r.Header.Get("Content-Type"),
	})
	reply := f.reply
	f.mu.Unlock()
	if reply == "" {
		reply = `{"ok":true,"result":{}}`
	}
	_, _ = w.Write([]byte(reply))
}

func newTelegram(t *testing.T, api *fakeBotAPI, cfg TelegramConfig) *Telegram {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	cfg.APIBase = srv.URL
	cfg.RatePerSec = 1000
	return NewTelegram(cfg, srv.Client())
}

func TestTelegramSendPostsForm(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTelegram(t, api, TelegramConfig{BotToken: "123:abc", ChatID: "-100"})

	n, err := tg.Send(context.Background(), "<b>hello</b>")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, api.texts, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	assert.Equal(t, "<b>hello</b>", api.texts[0])
	assert.Equal(t, "-100", api.forms[0]["chat_id"])
	assert.Equal(t, "HTML", api.forms[0]["parse_mode"])
	assert.Equal(t, "application/x-www-form-urlencoded", api.forms[0]["content_type"])
}

func TestTelegramRejected(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{reply: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`}
	tg := newTelegram(t, api, TelegramConfig{BotToken: "t", ChatID: "c"})
	_, err := tg.Send(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "chat not found")

	api.mu.Lock()
	api.reply = `<html>gateway</html>`
	api.mu.Unlock()
	_, err = tg.Send(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestTelegramNotConfiguredMakesNoRequest(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTelegram(t, api, TelegramConfig{BotToken: "t"})
	_, err := tg.Send(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, api.texts)
	assert.False(t, tg.Configured())

	tg.Apply(TelegramConfig{BotToken: "t", ChatID: "c", APIBase: "http://127.0.0.1:0"})
	assert.True(t, tg.Configured())
}

func TestTelegramSplitsLongMessages(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTelegram(t, api, TelegramConfig{BotToken: "t", ChatID: "c"})

	line := strings.Repeat("x", 99) + "\n"
	n, err := tg.Send(context.Background(), strings.Repeat(line, 100))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, txt := range api.texts {
		assert.LessOrEqual(t, len([]rune(txt)), telegramTextLimit)
	}
}

func TestSplitTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 15) + "<b>bold</b>" + strings.Repeat("c", 10)
	chunks := splitText(s, 17, "HTML")
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("a", 15), chunks[0])
	assert.Equal(t, "<b>bold</b>cccccc", chunks[1])
	assert.Equal(t, s, strings.Join(chunks, ""))

	assert.Equal(t, []string{"short"}, splitText("short", 10, "HTML"))
}

func newLaneService(t *testing.T, sender Sender, bus eventbus.Bus) (*Service, *queue.Lane, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "n.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := New(sender, st, logx.Nop(), bus)
	lane, err := queue.New(queue.Config{Name: "alerts"}, st, svc.HandleJob, logx.Nop(), bus)
	require.NoError(t, err)
	svc.AttachLane(lane)
	return svc, lane, st
}

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingSender) Send(_ context.Context, text string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	if r.err != nil {
		return 0, r.err
	}
	return 1, nil
}

func TestEnqueueDeliversOnDispatch(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	svc, lane, _ := newLaneService(t, sender, bus)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, "Warning: sitemap missing")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, sender.texts)

	n, err := lane.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Warning: sitemap missing"}, sender.texts)

	var sent bool
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.NotifySent {
			sent = true
		}
	}
	assert.True(t, sent)
}

func TestFailedQueuedSendIsDroppedNotRetried(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{err: errors.New("connection reset")}
	svc, lane, st := newLaneService(t, sender, nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "alert")
	require.NoError(t, err)
	_, err = lane.Dispatch(ctx)
	require.NoError(t, err)

	n, err := lane.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sender.texts, 1)

	pending, _ := st.CountJobs(ctx, "alerts", storage.JobQueued)
	assert.Zero(t, pending)
	h := svc.History()
	require.Len(t, h, 1)
	assert.Equal(t, "connection reset", h[0].Error)
}

func TestNotifyRoutesByBackgroundFlag(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	svc, lane, _ := newLaneService(t, sender, nil)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, "now", false))
	require.NoError(t, svc.Notify(ctx, "later", true))
	assert.Equal(t, []string{"now"}, sender.texts)
	assert.Equal(t, 1, lane.Snapshot(ctx).Pending)

	empty, err := svc.Enqueue(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEnqueueWithoutLane(t *testing.T) {
	t.Parallel()

	svc := New(&recordingSender{}, nil, logx.Nop(), nil)
	_, err := svc.Enqueue(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoQueue)
}
