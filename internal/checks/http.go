package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"sitewatch/internal/wordpress"
)

const (
	NameSitemap         = "sitemap"
	NameFrontPageRobots = "front_page_robots"
	NamePermalinks      = "permalinks"
	NameCacheHits       = "cloudflare_cache_hits"
)

// Sitemap alerts when /sitemap_index.xml does not answer 200.
type Sitemap struct {
	Site *Site
}

func (c *Sitemap) Name() string { return NameSitemap }

func (c *Sitemap) Run(ctx context.Context) (*Alert, error) {
	p, err := c.Site.fetch(ctx, http.MethodGet, c.Site.home()+"/sitemap_index.xml", true)
	if err == nil && p.Status == http.StatusOK {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	status := ""
	if p.Status != 0 {
		status = strconv.Itoa(p.Status)
	}
	ip := p.RemoteIP
	if ip == "" {
		ip = "Unknown"
	}
	name := c.Site.Name
	text := "Warning: The " + name + "/sitemap_index.xml file is missing or not accessible on " + name +
		"\nStatus Code: " + status + "\nIP Address: " + ip
	return alertOf(NameSitemap, text), nil
}

// FrontPageRobots alerts when the front page is noindex or has no robots meta.
type FrontPageRobots struct {
	Site *Site
}

func (c *FrontPageRobots) Name() string { return NameFrontPageRobots }

func (c *FrontPageRobots) Run(ctx context.Context) (*Alert, error) {
	p, err := c.Site.fetch(ctx, http.MethodGet, c.Site.home(), false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return alertOf(NameFrontPageRobots, "Failed to fetch front page content: "+err.Error()), nil
	}
	content, ok := robotsMeta(p.Body)
	if !ok {
		return alertOf(NameFrontPageRobots, "No 'robots' meta tag found on the front page."), nil
	}
	if strings.Contains(strings.ToLower(content), "noindex") {
		return alertOf(NameFrontPageRobots, fmt.Sprintf("Warning: The front page is set to 'noindex' on %s.", c.Site.Name)), nil
	}
	return nil, nil
}

// LinkLister lists permalinks of published content. *wordpress.REST implements it.
type LinkLister interface {
	LatestLinks(ctx context.Context, postType string, n int) ([]string, error)
}

// Permalinks HEADs the newest posts, pages and products and reports 404s.
type Permalinks struct {
	Site  *Site
	Links LinkLister
	// Types defaults to post, page and product. A type without a REST
	// route is skipped.
	Types []string
	Limit int
}

func (c *Permalinks) Name() string { return NamePermalinks }

func (c *Permalinks) Run(ctx context.Context) (*Alert, error) {
	types := c.Types
	if len(types) == 0 {
		types = []string{"post", "page", "product"}
	}
	limit := c.Limit
	if limit <= 0 {
		limit = 5
	}

	var missing []string
	var errs []error
	for _, typ := range types {
		links, err := c.Links.LatestLinks(ctx, typ, limit)
		if err != nil {
			if !errors.Is(err, wordpress.ErrUnknownRoute) {
				errs = append(errs, err)
			}
			continue
		}
		for _, u := range links {
			p, err := c.Site.fetch(ctx, http.MethodHead, u, false)
			if err == nil && p.Status == http.StatusNotFound {
				missing = append(missing, u)
			}
		}
	}
	if len(missing) == 0 {
		return nil, errors.Join(errs...)
	}
	var b strings.Builder
	b.WriteString("🚨 Permalink Check Alert: The following URLs returned 404 errors:\n")
	for _, u := range missing {
		b.WriteString("- " + u + "\n")
	}
	return alertOf(NamePermalinks, b.String()), nil
}

type sample struct {
	kind string
	url  string
}

// CacheHits samples the home page, two recent posts and three pages that are
// indexable and alerts when at most two of them were served from the
// Cloudflare cache.
type CacheHits struct {
	Site  *Site
	Links LinkLister
}

func (c *CacheHits) Name() string { return NameCacheHits }

func (c *CacheHits) samples(ctx context.Context) []sample {
	var out []sample
	if !c.isNoindex(ctx, c.Site.home()) {
		out = append(out, sample{"homepage", c.Site.home()})
	}
	pick := func(postType, prefix string, fetch, keep int) {
		links, err := c.Links.LatestLinks(ctx, postType, fetch)
		if err != nil {
			return
		}
		n := 0
		for _, u := range links {
			if n >= keep {
				break
			}
			if c.isNoindex(ctx, u) {
				continue
			}
			n++
			out = append(out, sample{prefix + strconv.Itoa(n), u})
		}
	}
	pick("post", "latest_post_", 4, 2)
	pick("page", "page_", 6, 3)
	return out
}

// isNoindex treats unreachable pages as indexable.
func (c *CacheHits) isNoindex(ctx context.Context, u string) bool {
	p, err := c.Site.fetch(ctx, http.MethodGet, u, false)
	if err != nil {
		return false
	}
	return p.noindex()
}

func (c *CacheHits) Run(ctx context.Context) (*Alert, error) {
	urls := c.samples(ctx)
	if len(urls) == 0 {
		return nil, ctx.Err()
	}

	hits := 0
	var uncached []sample
	var statuses []string
	for _, s := range urls {
		p, err := c.Site.fetch(ctx, http.MethodGet, s.url, false)
		if err != nil {
			continue
		}
		st := p.Header.Get("CF-Cache-Status")
		if st == "HIT" {
			hits++
			continue
		}
		if st == "" {
			st = "MISS"
		}
		uncached = append(uncached, s)
		statuses = append(statuses, st)
	}
	if hits > 2 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Warning: Low Cloudflare cache hit rate detected on %s.\n"+
		"Only %d out of %d checked pages were served from cache.\n\n"+
		"Uncached Pages:\n", c.Site.Name, hits, len(urls))
	for i, s := range uncached {
		fmt.Fprintf(&b, "- %s (%s): %s\n", upperFirst(s.kind), statuses[i], s.url)
	}
	b.WriteString("\nLow cache hits may lead to suboptimal loading speeds. Consider reviewing your caching configuration and page optimization settings.")
	return alertOf(NameCacheHits, b.String()), nil
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
