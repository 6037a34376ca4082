package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/hooks"
	logx "sitewatch/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	events []hooks.Event
	err    error
}

func (r *recorder) Emit(_ context.Context, ev hooks.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) got() []hooks.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.Event(nil), r.events...)
}

func newTestServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	s := New(Config{Token: "s3cret"}, rec, func(context.Context) any {
		return map[string]any{"lanes": []string{"alerts", "pagespeed"}}
	}, logx.Nop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/events", strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPostEventEmits(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := newTestServer(t, rec)
	resp := post(t, srv, "s3cret", `{"kind":"plugin_activated","actor":{"login":"ann"},"plugin":{"name":"Akismet","version":"5.3"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	evs := rec.got()
	require.Len(t, evs, 1)
	assert.Equal(t, hooks.PluginActivated, evs[0].Kind)
	assert.Equal(t, "Akismet", evs[0].Plugin.Name)
	assert.Equal(t, "ann", evs[0].Actor.Login)
	assert.Equal(t, 2024, evs[0].At.Year(), "missing timestamp is filled in")
}

func TestPostEventRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, token, body string
		status            int
	}{
		{"no token", "", `{"kind":"cache_purged"}`, http.StatusUnauthorized},
		{"wrong token", "nope", `{"kind":"cache_purged"}`, http.StatusUnauthorized},
		{"not json", "s3cret", `kind=cache_purged`, http.StatusBadRequest},
		{"unknown kind", "s3cret", `{"kind":"theme_switched"}`, http.StatusBadRequest},
		{"missing payload", "s3cret", `{"kind":"order_placed"}`, http.StatusBadRequest},
		{"trailing data", "s3cret", `{"kind":"cache_purged"} {}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			srv := newTestServer(t, rec)
			resp := post(t, srv, tc.token, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Empty(t, rec.got())
		})
	}
}

func TestHandlerErrorsStillAccepted(t *testing.T) {
	t.Parallel()

	rec := &recorder{err: errors.New("telegram down")}
	srv := newTestServer(t, rec)
	resp := post(t, srv, "s3cret", `{"kind":"cache_purged","ip":"203.0.113.9"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, rec.got(), 1)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recorder{})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lanes":["alerts","pagespeed"]}`, string(b))
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0", Token: "s3cret"}, &recorder{}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeRequiresToken(t *testing.T) {
	t.Parallel()

	err := New(Config{Addr: "127.0.0.1:0"}, &recorder{}, nil, logx.Nop()).Serve(context.Background())
	assert.Error(t, err)
}
