// Package pagespeed runs Google PageSpeed Insights batches and reports pages
// whose best mobile performance score stays below a threshold.
package pagespeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmespath-community/go-jmespath"
)

const (
	DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	DefaultTimeout  = 60 * time.Second
)

var (
	ErrNotConfigured = errors.New("pagespeed: api key not configured")
	ErrNoScore       = errors.New("pagespeed: response has no performance score")
)

const scorePath = "lighthouseResult.categories.performance.score"

// Client calls the runPagespeed endpoint with the mobile strategy.
type Client struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	HTTP     *http.Client
}

// Score returns the performance score of pageURL scaled to 0..100.
func (c *Client) Score(ctx context.Context, pageURL string) (int, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return 0, ErrNotConfigured
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("key", c.APIKey)
	q.Set("strategy", "mobile")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// Drop the URL, it carries the API key.
			return 0, fmt.Errorf("pagespeed request: %w", uerr.Err)
		}
		return 0, fmt.Errorf("pagespeed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return 0, fmt.Errorf("pagespeed: status %d", resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&doc); err != nil {
		return 0, fmt.Errorf("pagespeed decode: %w", err)
	}
	v, err := jmespath.Search(scorePath, doc)
	if err != nil {
		return 0, fmt.Errorf("pagespeed search: %w", err)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, ErrNoScore
	}
	return int(math.Round(f * 100)), nil
}
