package pagespeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/queue"
	logx "sitewatch/pkg/logx"
)

type scriptedScorer struct {
	mu     sync.Mutex
	script map[string][]any // url -> successive results (int or error)
	calls  map[string]int
}

func (s *scriptedScorer) Score(_ context.Context, u string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	i := s.calls[u]
	s.calls[u]++
	steps := s.script[u]
	if i >= len(steps) {
		return 0, errors.New("script exhausted")
	}
	switch v := steps[i].(type) {
	case int:
		return v, nil
	case error:
		return 0, v
	}
	return 0, fmt.Errorf("bad script step %v", steps[i])
}

type sleepRecorder struct{ slept []time.Duration }

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return nil
}

func TestBestOfNAnalysis(t *testing.T) {
	t.Parallel()

	b := Batch{URLs: map[string]string{"home": "https://h", "product": "https://p"}, Threshold: 90, Attempts: 3, SiteURL: "https://example.com"}

	passing := map[string][]int{"home": {80, 95, 70}, "product": {92, 93, 91}}
	assert.Empty(t, Analyze(b, passing))

	failing := map[string][]int{"home": {80, 85, 70}, "product": {92, 93, 91}}
	got := Analyze(b, failing)
	require.Len(t, got, 1)
	assert.Equal(t, Finding{Category: "home", URL: "https://h", Best: 85, Scores: []int{80, 85, 70}}, got[0])
}

func TestCollectRetriesAndOmitsFailedRounds(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	scorer := &scriptedScorer{script: map[string][]any{
		// round 1: two failures then 80; round 2: all fail; round 3: 70
		"https://h": {boom, boom, 80, boom, boom, boom, 70},
		"https://p": {92, 93, 91},
	}}
	rec := &sleepRecorder{}
	r := &Runner{Scorer: scorer, Sleep: rec.sleep}
	b := Batch{URLs: map[string]string{"home": "https://h", "product": "https://p"}, Threshold: 90, Attempts: 3}

	scores, err := r.Collect(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []int{80, 70}, scores["home"])
	assert.Equal(t, []int{92, 93, 91}, scores["product"])

	var retries, pauses int
	for _, d := range rec.slept {
		switch d {
		case 5 * time.Second:
			retries++
		case 2 * time.Second:
			pauses++
		}
	}
	assert.Equal(t, 4, retries)
	assert.Equal(t, 3, pauses)
}

func TestRunFormatsAlert(t *testing.T) {
	t.Parallel()

	scorer := &scriptedScorer{script: map[string][]any{
		"https://example.com/":   {80, 85, 70},
		"https://example.com/p/": {95, 95, 95},
	}}
	r := &Runner{Scorer: scorer, Sleep: (&sleepRecorder{}).sleep}
	b := Batch{
		URLs:      map[string]string{"home": "https://example.com/", "product": "https://example.com/p/"},
		Threshold: 90,
		Attempts:  3,
		SiteURL:   "https://example.com",
	}
	text, err := r.Run(context.Background(), b)
	require.NoError(t, err)
	want := "⚠️ PageSpeed Performance Issues Detected for https://example.com\n\n" +
		"Home page:\nURL: https://example.com/\nBest Score: 85\nAll Scores: 80, 85, 70\n" +
		"You can run a new speed test here: https://pagespeed.web.dev/analysis?url=https%3A%2F%2Fexample.com%2F\n\n" +
		"\nConsider optimizing these pages to improve performance."
	assert.Equal(t, want, text)
}

func TestCollectStopsWhenKeyMissing(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	r := &Runner{Scorer: &Client{}, Sleep: rec.sleep}
	_, err := r.Collect(context.Background(), Batch{URLs: map[string]string{"home": "https://h"}, Attempts: 3})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, rec.slept)
}

func TestCategoriesOrder(t *testing.T) {
	t.Parallel()

	got := Categories(map[string]string{"zeta": "", "category": "", "home": "", "alpha": "", "product": ""})
	assert.Equal(t, []string{"home", "product", "category", "alpha", "zeta"}, got)
}

func TestClientScore(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"url": q.Get("url"), "key": q.Get("key"), "strategy": q.Get("strategy")}
		switch q.Get("url") {
		case "https://good":
			_, _ = w.Write([]byte(`{"lighthouseResult":{"categories":{"performance":{"score":0.87}}}}`))
		case "https://noscore":
			_, _ = w.Write([]byte(`{"lighthouseResult":{"categories":{}}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := &Client{APIKey: "k", Endpoint: srv.URL, HTTP: srv.Client()}
	score, err := c.Score(context.Background(), "https://good")
	require.NoError(t, err)
	assert.Equal(t, 87, score)
	assert.Equal(t, map[string]string{"url": "https://good", "key": "k", "strategy": "mobile"}, gotQuery)

	_, err = c.Score(context.Background(), "https://noscore")
	assert.ErrorIs(t, err, ErrNoScore)

	_, err = c.Score(context.Background(), "https://broken")
	assert.Error(t, err)
}

type capturedAlerts struct{ texts []string }

func (c *capturedAlerts) EnqueueKind(_ context.Context, _ string, text string) (string, error) {
	c.texts = append(c.texts, text)
	return "id", nil
}

func TestJobEnqueuesOnlyOnFindings(t *testing.T) {
	t.Parallel()

	alerts := &capturedAlerts{}
	scorer := &scriptedScorer{script: map[string][]any{"https://h": {99}, "https://slow": {40}}}
	job := &Job{Runner: &Runner{Scorer: scorer, Sleep: (&sleepRecorder{}).sleep}, Alerts: alerts, Log: logx.Nop()}

	ok := queue.Job{ID: "1", Payload: []byte(`{"urls":{"home":"https://h"},"threshold":90,"attempts":1,"site_url":"https://h"}`)}
	require.NoError(t, job.Handle(context.Background(), ok))
	assert.Empty(t, alerts.texts)

	slow := queue.Job{ID: "2", Payload: []byte(`{"urls":{"home":"https://slow"},"threshold":90,"attempts":1,"site_url":"https://slow"}`)}
	require.NoError(t, job.Handle(context.Background(), slow))
	require.Len(t, alerts.texts, 1)
	assert.Contains(t, alerts.texts[0], "Best Score: 40")

	assert.Error(t, job.Handle(context.Background(), queue.Job{Payload: []byte(`not json`)}))
}

type fakeSource struct {
	product, category string
	err               error
}

func (f fakeSource) OldestPostLink(context.Context, string) (string, error) { return f.product, f.err }
func (f fakeSource) OldestTermLink(context.Context, string) (string, error) { return f.category, f.err }

func TestPlanner(t *testing.T) {
	t.Parallel()

	p := &Planner{Source: fakeSource{product: "https://s/p/1/", category: "https://s/c/a/"}, SiteURL: "https://s/"}
	b, err := p.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"home": "https://s/", "product": "https://s/p/1/", "category": "https://s/c/a/"}, b.URLs)
	assert.Equal(t, 90, b.Threshold)
	assert.Equal(t, 3, b.Attempts)
	assert.Equal(t, "https://s", b.SiteURL)

	p.Source = fakeSource{err: errors.New("rest down")}
	b, err = p.Plan(context.Background())
	require.NoError(t, err)
	assert.Len(t, b.URLs, 1)
}
