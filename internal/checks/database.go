package checks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sitewatch/internal/wordpress"
)

const (
	NameAutoloadSize      = "autoload_size"
	NameHPOS              = "woocommerce_hpos"
	NameOrders            = "woocommerce_orders"
	NameWordfence         = "wordfence"
	NameWordfenceSummary  = "wordfence_summary"
	wooPlugin             = "woocommerce/woocommerce.php"
	wordfencePlugin       = "wordfence/wordfence.php"
	autoloadThresholdKB   = 400
	defaultOrderLookback  = 24 * time.Hour
	orderPeriodTimeLayout = "2006-01-02 15:04:05"
)

// Options reads wp_options. *wordpress.DB implements it.
type Options interface {
	AutoloadBytes(ctx context.Context) (int64, error)
	PluginActive(ctx context.Context, file string) (bool, error)
	HPOSEnabled(ctx context.Context) (bool, error)
}

// AutoloadSize alerts when autoloaded options exceed 400 KB.
type AutoloadSize struct {
	DB Options
}

func (c *AutoloadSize) Name() string { return NameAutoloadSize }

func (c *AutoloadSize) Run(ctx context.Context) (*Alert, error) {
	n, err := c.DB.AutoloadBytes(ctx)
	if err != nil {
		return nil, err
	}
	kb := n / 1024
	if kb <= autoloadThresholdKB {
		return nil, nil
	}
	text := fmt.Sprintf("Information: The total size of autoloaded options in the database has reached %d KB, surpassing the recommended threshold of 400 KB. "+
		"Excessive autoloaded data can affect site performance, particularly for the backend and the checkout. "+
		"To maintain optimal performance, it is recommended to review and reduce autoloaded data.", kb)
	return alertOf(NameAutoloadSize, text), nil
}

// HPOS advises enabling WooCommerce High-Performance Order Storage.
type HPOS struct {
	Site *Site
	DB   Options
}

func (c *HPOS) Name() string { return NameHPOS }

func (c *HPOS) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, wooPlugin)
	if err != nil || !active {
		return nil, err
	}
	on, err := c.DB.HPOSEnabled(ctx)
	if err != nil || on {
		return nil, err
	}
	text := fmt.Sprintf("ℹ️ Advice: The WooCommerce High-Performance Order Storage (HPOS) feature is not yet enabled on %s. "+
		"Activating HPOS can enhance your site's performance when processing and managing orders. "+
		"To enable HPOS, navigate to: WooCommerce > Settings > Advanced > Custom Data Stores. "+
		"Before enabling this feature, please ensure all plugins of the site are compatible with HPOS to avoid potential conflicts.",
		c.Site.Name)
	return alertOf(NameHPOS, text), nil
}

// Orders reads order counts. *wordpress.DB implements it.
type Orders interface {
	PluginActive(ctx context.Context, file string) (bool, error)
	PaidOrdersSince(ctx context.Context, since time.Time) (int, error)
}

// NoOrders alerts when no paid order arrived in the last 24 hours.
type NoOrders struct {
	Site     *Site
	DB       Orders
	Location *time.Location
	Now      func() time.Time
}

func (c *NoOrders) Name() string { return NameOrders }

func (c *NoOrders) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, wooPlugin)
	if err != nil || !active {
		return nil, err
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	since := now.Add(-defaultOrderLookback)
	n, err := c.DB.PaidOrdersSince(ctx, since)
	if err != nil || n > 0 {
		return nil, err
	}
	text := fmt.Sprintf("⚠️ No orders received in the last 24 hours on %s\nPeriod: %s to %s %s",
		c.Site.Name, since.Format(orderPeriodTimeLayout), now.Format(orderPeriodTimeLayout), now.Format("MST"))
	return alertOf(NameOrders, text), nil
}

// Severity levels of Wordfence issues.
var severityLevels = map[string]int{
	"none":     0,
	"low":      25,
	"medium":   50,
	"high":     75,
	"critical": 100,
}

// SeverityValue maps a level name to its numeric value. Unknown names
// fall back to critical.
func SeverityValue(name string) int {
	if v, ok := severityLevels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return v
	}
	return severityLevels["critical"]
}

func severityName(v int) string {
	for name, lvl := range severityLevels {
		if lvl == v {
			return strings.ToUpper(name)
		}
	}
	return strconv.Itoa(v)
}

// Scanner reads Wordfence scan state. *wordpress.DB implements it.
type Scanner interface {
	PluginActive(ctx context.Context, file string) (bool, error)
	WordfenceIssues(ctx context.Context, minSeverity int) ([]wordpress.Issue, error)
}

// Suppressor is a dedup gate. *throttle.Gate implements it.
type Suppressor interface {
	ShouldSuppress(ctx context.Context, content string) bool
	Clear(ctx context.Context, content string) error
}

// Wordfence warns when the plugin is inactive and otherwise reports new scan
// issues at or above MinSeverity. Every issue id is reported once; Seen
// holds the permanent record.
type Wordfence struct {
	Site        *Site
	DB          Scanner
	MinSeverity int
	Seen        Suppressor
}

func (c *Wordfence) Name() string { return NameWordfence }

func (c *Wordfence) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, wordfencePlugin)
	if err != nil {
		return nil, err
	}
	if !active {
		return alertOf(NameWordfence, "Warning: The Wordfence plugin is currently not installed or activated, leaving the site more vulnerable to potential hacker attacks. For enhanced security, we recommend installing the plugin, which is available in a free version."), nil
	}
	issues, err := c.DB.WordfenceIssues(ctx, c.MinSeverity)
	if err != nil {
		return nil, err
	}
	var parts, marked []string
	for _, is := range issues {
		id := strconv.FormatInt(is.ID, 10)
		if c.Seen != nil {
			if c.Seen.ShouldSuppress(ctx, id) {
				continue
			}
			marked = append(marked, id)
		}
		parts = append(parts, fmt.Sprintf("Wordfence Security Alert: %s\nSeverity: %s\nSite: %s",
			is.ShortMsg, severityName(is.Severity), c.Site.Name))
	}
	a := alertOf(NameWordfence, strings.Join(parts, "\n\n"))
	if a != nil && len(marked) > 0 {
		seen := c.Seen
		a.Release = func(ctx context.Context) error {
			var errs []error
			for _, id := range marked {
				errs = append(errs, seen.Clear(ctx, id))
			}
			return errors.Join(errs...)
		}
	}
	return a, nil
}

// WordfenceSummary lists every unresolved issue at or above MinSeverity.
type WordfenceSummary struct {
	Site        *Site
	DB          Scanner
	MinSeverity int
}

func (c *WordfenceSummary) Name() string { return NameWordfenceSummary }

func (c *WordfenceSummary) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, wordfencePlugin)
	if err != nil || !active {
		return nil, err
	}
	issues, err := c.DB.WordfenceIssues(ctx, c.MinSeverity)
	if err != nil || len(issues) == 0 {
		return nil, err
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	var b strings.Builder
	b.WriteString("Wordfence Security Alert Summary:\n\n")
	for _, is := range issues {
		fmt.Fprintf(&b, "- %s (Severity: %s)\n\n", is.ShortMsg, severityName(is.Severity))
	}
	b.WriteString("\nSite: " + c.Site.Name)
	return alertOf(NameWordfenceSummary, b.String()), nil
}
