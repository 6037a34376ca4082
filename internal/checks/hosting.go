package checks

import (
	"context"
	"fmt"
	"strings"

	"sitewatch/internal/cpanel"
)

const (
	NameUnderAttack  = "under_attack"
	NameCacheReserve = "cloudflare_cache_reserve"
	NameCpanelUsage  = "cpanel_usage"
)

// Cloudflare is the zone API used by the Cloudflare checks.
// *cloudflare.Client implements it.
type Cloudflare interface {
	Configured() bool
	CacheReserve(ctx context.Context, domain string) (string, error)
	UnderAttack(ctx context.Context, domain string) (bool, error)
}

// UnderAttack alerts while the zone runs in "I'm Under Attack" mode.
// Without an API token it stays silent.
type UnderAttack struct {
	Site *Site
	CF   Cloudflare
}

func (c *UnderAttack) Name() string { return NameUnderAttack }

func (c *UnderAttack) Run(ctx context.Context) (*Alert, error) {
	if c.CF == nil || !c.CF.Configured() {
		return nil, nil
	}
	on, err := c.CF.UnderAttack(ctx, c.Site.Name)
	if err != nil || !on {
		return nil, err
	}
	text := fmt.Sprintf("⚠️ Warning: Cloudflare Under Attack Mode is enabled on %s\n", c.Site.Name) +
		"This might affect user experience and should be disabled when the threat is over."
	return alertOf(NameUnderAttack, text), nil
}

// CacheReserve alerts when no API token is set or cache reserve is off.
type CacheReserve struct {
	Site *Site
	CF   Cloudflare
}

func (c *CacheReserve) Name() string { return NameCacheReserve }

func (c *CacheReserve) Run(ctx context.Context) (*Alert, error) {
	if c.CF == nil || !c.CF.Configured() {
		return alertOf(NameCacheReserve, fmt.Sprintf("Warning: Cloudflare API key is not set on %s.", c.Site.Name)), nil
	}
	v, err := c.CF.CacheReserve(ctx, c.Site.Name)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(v, "on") {
		return nil, nil
	}
	return alertOf(NameCacheReserve, fmt.Sprintf("Warning: Cloudflare cache reserve is not enabled on %s.", c.Site.Name)), nil
}

// Quota reads hosting account usage. *cpanel.Client implements it.
type Quota interface {
	Configured() bool
	Usage(ctx context.Context) (cpanel.Usage, error)
}

// CpanelUsage alerts when disk or inode usage reaches Threshold percent.
type CpanelUsage struct {
	Site      *Site
	Quota     Quota
	Threshold float64
}

func (c *CpanelUsage) Name() string { return NameCpanelUsage }

func (c *CpanelUsage) Run(ctx context.Context) (*Alert, error) {
	if c.Quota == nil || !c.Quota.Configured() {
		return nil, nil
	}
	limit := c.Threshold
	if limit <= 0 {
		limit = 90
	}
	u, err := c.Quota.Usage(ctx)
	if err != nil {
		return nil, err
	}
	if u.DiskPercent < limit && u.InodePercent < limit {
		return nil, nil
	}
	text := fmt.Sprintf("⚠️ Warning: Hosting resource usage is high on %s.\n"+
		"Disk: %.1f%% (%.0f MB of %.0f MB)\n"+
		"Inodes: %.1f%% (%d of %d)\n\n"+
		"Free up space or raise the hosting plan limits before the account runs out.",
		c.Site.Name,
		u.DiskPercent, u.DiskUsedMB, u.DiskLimitMB,
		u.InodePercent, u.InodesUsed, u.InodeLimit)
	return alertOf(NameCpanelUsage, text), nil
}
