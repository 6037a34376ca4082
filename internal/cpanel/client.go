// Package cpanel reads account quota usage through the cPanel UAPI.
package cpanel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath-community/go-jmespath"
)

const (
	DefaultPort    = 2083
	DefaultTimeout = 30 * time.Second
)

var (
	ErrNotConfigured = errors.New("cpanel: host, user or token not configured")
	ErrBadResponse   = errors.New("cpanel: unexpected response")
)

type Config struct {
	Host               string
	Port               int
	User               string
	Token              string
	InsecureSkipVerify bool
	Timeout            time.Duration
	// BaseURL overrides https://{Host}:{Port}.
	BaseURL string
}

func (c Config) Configured() bool {
	return (strings.TrimSpace(c.Host) != "" || strings.TrimSpace(c.BaseURL) != "") &&
		strings.TrimSpace(c.User) != "" && strings.TrimSpace(c.Token) != ""
}

// Usage is the quota state of the account. Percentages are 0 when the
// account has no limit.
type Usage struct {
	DiskUsedMB   float64
	DiskLimitMB  float64
	DiskPercent  float64
	InodesUsed   int64
	InodeLimit   int64
	InodePercent float64
}

type Client struct {
	cfg Config
	hc  *http.Client
}

func New(cfg Config) *Client {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{cfg: cfg, hc: &http.Client{Transport: tr, Timeout: cfg.Timeout}}
}

// WithHTTPClient replaces the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.hc = hc
	return c
}

func (c *Client) Configured() bool { return c != nil && c.cfg.Configured() }

const quotaExpr = "data.{used: megabytes_used, limit: megabyte_limit, inodes: inodes_used, inode_limit: inode_limit}"

// Usage calls Quota/get_quota_info.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	v, err := c.execute(ctx, "Quota", "get_quota_info", quotaExpr)
	if err != nil {
		return Usage{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Usage{}, fmt.Errorf("%w: no quota data", ErrBadResponse)
	}
	u := Usage{
		DiskUsedMB:  number(m["used"]),
		DiskLimitMB: number(m["limit"]),
		InodesUsed:  int64(number(m["inodes"])),
		InodeLimit:  int64(number(m["inode_limit"])),
	}
	if u.DiskLimitMB > 0 {
		u.DiskPercent = u.DiskUsedMB / u.DiskLimitMB * 100
	}
	if u.InodeLimit > 0 {
		u.InodePercent = float64(u.InodesUsed) / float64(u.InodeLimit) * 100
	}
	return u, nil
}

func (c *Client) baseURL() string {
	if b := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/"); b != "" {
		return b
	}
	return "https://" + c.cfg.Host + ":" + strconv.Itoa(c.cfg.Port)
}

func (c *Client) execute(ctx context.Context, module, fn, expr string) (any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.baseURL() + "/execute/" + module + "/" + fn
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "cpanel "+c.cfg.User+":"+c.cfg.Token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cpanel %s/%s: %w", module, fn, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s/%s status %d", ErrBadResponse, module, fn, resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrBadResponse, module, fn, err)
	}
	if st, _ := jmespath.Search("status", doc); number(st) != 1 {
		msg, _ := jmespath.Search("errors[0]", doc)
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrBadResponse, module, fn, msg)
	}
	return jmespath.Search(expr, doc)
}

// number accepts the JSON numbers and numeric strings UAPI returns.
func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	default:
		return 0
	}
}
