// Package cloudflare is a small Cloudflare v4 API client covering the zone
// settings sitewatch inspects.
package cloudflare

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
	"time"

	"github.com/jmespath-community/go-jmespath"
)

const (
	DefaultAPIBase = "https://api.cloudflare.com/client/v4"
	DefaultTimeout = 30 * time.Second
)

var (
	ErrNotConfigured = errors.New("cloudflare: api token not configured")
	ErrZoneNotFound  = errors.New("cloudflare: zone not found")
	ErrUnsuccessful  = errors.New("cloudflare: request not successful")
)

// Client authenticates with a Bearer API token. Zone ids are cached per domain.
type Client struct {
	Token   string
	APIBase string
	Timeout time.Duration
	HTTP    *http.Client

	mu    sync.Mutex
	zones map[string]string
}

func (c *Client) Configured() bool { return c != nil && strings.TrimSpace(c.Token) != "" }

// ZoneName strips scheme, port and a leading "www." from a site URL or host.
func ZoneName(site string) string {
	s := strings.TrimSpace(site)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = u.Hostname()
	}
	s = strings.TrimSuffix(s, "/")
	return strings.TrimPrefix(strings.ToLower(s), "www.")
}

// ZoneID resolves the zone id of domain.
func (c *Client) ZoneID(ctx context.Context, domain string) (string, error) {
	name := ZoneName(domain)
	c.mu.Lock()
	id, ok := c.zones[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	q := url.Values{}
	q.Set("name", name)
	v, err := c.get(ctx, "zones?"+q.Encode(), "result[0].id")
	if err != nil {
		return "", err
	}
	id, _ = v.(string)
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, name)
	}

	c.mu.Lock()
	if c.zones == nil {
		c.zones = make(map[string]string)
	}
	c.zones[name] = id
	c.mu.Unlock()
	return id, nil
}

// CacheReserve returns the cache reserve setting value ("on" or "off").
func (c *Client) CacheReserve(ctx context.Context, domain string) (string, error) {
	return c.zoneSetting(ctx, domain, "cache/cache_reserve")
}

// SecurityLevel returns the zone security level, e.g. "medium" or "under_attack".
func (c *Client) SecurityLevel(ctx context.Context, domain string) (string, error) {
	return c.zoneSetting(ctx, domain, "settings/security_level")
}

// UnderAttack reports whether "I'm Under Attack" mode is active.
func (c *Client) UnderAttack(ctx context.Context, domain string) (bool, error) {
	lvl, err := c.SecurityLevel(ctx, domain)
	if err != nil {
		return false, err
	}
	return lvl == "under_attack", nil
}

// VerifyToken checks the token against /user/tokens/verify.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.get(ctx, "user/tokens/verify", "result.status")
	return err
}

func (c *Client) zoneSetting(ctx context.Context, domain, path string) (string, error) {
	zone, err := c.ZoneID(ctx, domain)
	if err != nil {
		return "", err
	}
	v, err := c.get(ctx, "zones/"+url.PathEscape(zone)+"/"+path, "result.value")
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// get issues a GET and returns expr evaluated against the response document.
// A response whose "success" is not true is an error.
func (c *Client) get(ctx context.Context, path, expr string) (any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(c.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare %s: %w", path, err)
	}
	defer resp.Body.Close()

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cloudflare %s: status %d: %w", path, resp.StatusCode, err)
	}
	if ok, _ := jmespath.Search("success", doc); ok != true {
		msg, _ := jmespath.Search("errors[0].message", doc)
		return nil, fmt.Errorf("%w: %s: status %d %v", ErrUnsuccessful, path, resp.StatusCode, msg)
	}
	return jmespath.Search(expr, doc)
}
