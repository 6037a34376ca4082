package pagespeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	logx "sitewatch/pkg/logx"
)

// Batch is the pagespeed lane payload.
type Batch struct {
	URLs      map[string]string `json:"urls"` // category -> page URL
	Threshold int               `json:"threshold"`
	Attempts  int               `json:"attempts"`
	SiteURL   string            `json:"site_url"`
}

// Finding is a category whose best score stayed below the threshold.
type Finding struct {
	Category string
	URL      string
	Best     int
	Scores   []int
}

type Scorer interface {
	Score(ctx context.Context, pageURL string) (int, error)
}

// Runner executes batches. Sleeps block the calling lane by design of the
// single-worker lane; Sleep is swappable for tests.
type Runner struct {
	Scorer Scorer
	Log    logx.Logger

	// RetryAttempts bounds calls per URL per round (default 3).
	RetryAttempts int
	// RetryDelay separates those calls (default 5s).
	RetryDelay time.Duration
	// RoundPause follows every round (default 2s).
	RoundPause time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

func (r *Runner) defaults() (int, time.Duration, time.Duration, func(context.Context, time.Duration) error, logx.Logger) {
	attempts := r.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := r.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	pause := r.RoundPause
	if pause <= 0 {
		pause = 2 * time.Second
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	log := r.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return attempts, delay, pause, sleep, log
}

// Collect runs b.Attempts rounds over every category and returns the scores
// observed per category. A URL whose retries all fail contributes nothing
// for that round.
func (r *Runner) Collect(ctx context.Context, b Batch) (map[string][]int, error) {
	retries, delay, pause, sleep, log := r.defaults()
	scores := make(map[string][]int, len(b.URLs))
	cats := Categories(b.URLs)

	for round := 0; round < b.Attempts; round++ {
		for _, cat := range cats {
			score, err := r.scoreWithRetry(ctx, b.URLs[cat], retries, delay, sleep)
			if err != nil {
				if errors.Is(err, ErrNotConfigured) || ctx.Err() != nil {
					return scores, err
				}
				log.Debug("pagespeed score omitted", logx.String("category", cat), logx.Int("round", round+1), logx.Err(err))
				continue
			}
			scores[cat] = append(scores[cat], score)
		}
		if err := sleep(ctx, pause); err != nil {
			return scores, err
		}
	}
	return scores, nil
}

func (r *Runner) scoreWithRetry(ctx context.Context, pageURL string, attempts int, delay time.Duration, sleep func(context.Context, time.Duration) error) (int, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var score int
		score, err = r.Scorer.Score(ctx, pageURL)
		if err == nil {
			return score, nil
		}
		if errors.Is(err, ErrNotConfigured) {
			return 0, err
		}
		if i+1 < attempts {
			if serr := sleep(ctx, delay); serr != nil {
				return 0, serr
			}
		}
	}
	return 0, err
}

// Run collects, analyzes and formats. The returned text is empty when every
// category meets the threshold.
func (r *Runner) Run(ctx context.Context, b Batch) (string, error) {
	scores, err := r.Collect(ctx, b)
	if err != nil {
		return "", err
	}
	return FormatAlert(b.SiteURL, Analyze(b, scores)), nil
}

// Analyze reports every category whose maximum score is below the threshold.
// Categories without any score are skipped.
func Analyze(b Batch, scores map[string][]int) []Finding {
	var out []Finding
	for _, cat := range Categories(b.URLs) {
		s := scores[cat]
		if len(s) == 0 {
			continue
		}
		best := s[0]
		for _, v := range s[1:] {
			if v > best {
				best = v
			}
		}
		if best < b.Threshold {
			out = append(out, Finding{Category: cat, URL: b.URLs[cat], Best: best, Scores: append([]int(nil), s...)})
		}
	}
	return out
}

// FormatAlert renders findings as one Telegram message, or "" for none.
func FormatAlert(siteURL string, findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ PageSpeed Performance Issues Detected for %s\n\n", siteURL)
	for _, f := range findings {
		all := make([]string, len(f.Scores))
		for i, s := range f.Scores {
			all[i] = fmt.Sprint(s)
		}
		fmt.Fprintf(&b, "%s page:\nURL: %s\nBest Score: %d\nAll Scores: %s\nYou can run a new speed test here: https://pagespeed.web.dev/analysis?url=%s\n\n",
			upperFirst(f.Category), f.URL, f.Best, strings.Join(all, ", "), url.QueryEscape(f.URL))
	}
	b.WriteString("\nConsider optimizing these pages to improve performance.")
	return b.String()
}

var categoryOrder = map[string]int{"home": 0, "product": 1, "category": 2}

// Categories returns the batch categories, well-known ones first.
func Categories(urls map[string]string) []string {
	out := make([]string, 0, len(urls))
	for k := range urls {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := categoryOrder[out[i]]
		oj, jok := categoryOrder[out[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
