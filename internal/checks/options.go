package checks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"sitewatch/internal/wordpress"
)

const (
	NameWordfenceWAF      = "wordfence_waf"
	Name404Redirects      = "404_redirects"
	NamePluginAutoUpdates = "plugin_auto_updates"
	NameRankMathRedirect  = "rankmath_redirect"
	NameBillwerkSettings  = "billwerk_settings"
	NameUpdraftBackups    = "updraft_backups"

	rankMathPlugin = "seo-by-rank-math/rank-math.php"
	billwerkPlugin = "reepay-checkout-gateway/reepay-woocommerce-payment.php"
	updraftPlugin  = "updraftplus/updraftplus.php"

	updraftGrace   = 3 * 24 * time.Hour
	updraftMaxAge  = 2 * 24 * time.Hour
	wafLearning    = "learning-mode"
	wafBasicLevel  = "basic"
	billwerkStatus = "wc-"
)

// OptionReader reads plain and serialized options. *wordpress.DB implements it.
type OptionReader interface {
	PluginActive(ctx context.Context, file string) (bool, error)
	Option(ctx context.Context, name string) (string, bool, error)
	OptionArray(ctx context.Context, name string) (wordpress.PHPArray, error)
}

// Firewall adds the Wordfence WAF status.
type Firewall interface {
	OptionReader
	WAFStatus(ctx context.Context) (string, error)
}

func phpTruthy(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && v != "0"
}

// WordfenceWAF reports a firewall left in learning mode, in basic protection
// or not fully configured.
type WordfenceWAF struct {
	Site *Site
	DB   Firewall
}

func (c *WordfenceWAF) Name() string { return NameWordfenceWAF }

func (c *WordfenceWAF) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, wordfencePlugin)
	if err != nil || !active {
		return nil, err
	}
	var msgs []string
	status, err := c.DB.WAFStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status == wafLearning {
		msgs = append(msgs, fmt.Sprintf("⚠️ Warning: Wordfence Web Application Firewall (WAF) is currently in Learning Mode on %s. "+
			"While this is normal for newly installed WAF, leaving it in Learning Mode reduces your site's security. "+
			"We recommend reviewing and optimizing the firewall rules after the learning period.\n\n"+
			"To optimize the WAF:\n1. Go to Wordfence > Firewall\n2. Click 'OPTIMIZE THE WORDFENCE FIREWALL'\n3. Follow the optimization steps", c.Site.Name))
	}
	level, ok, err := c.DB.Option(ctx, "wordfence_protectionLevel")
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(level) == "" {
		level = wafBasicLevel
	}
	if level == wafBasicLevel {
		msgs = append(msgs, fmt.Sprintf("⚠️ Warning: Wordfence Firewall is running in Basic Protection Mode on %s. "+
			"For maximum security, we recommend enabling Extended Protection Mode.\n\n"+
			"To enable Extended Protection:\n1. Go to Wordfence > Firewall > Firewall Configuration\n2. Set Protection Level to 'Extended Protection'\n3. Save Changes", c.Site.Name))
	}
	configured, _, err := c.DB.Option(ctx, "wordfence_basicConfigured")
	if err != nil {
		return nil, err
	}
	if !phpTruthy(configured) {
		msgs = append(msgs, fmt.Sprintf("⚠️ Warning: Wordfence Basic Firewall Protection is not fully configured on %s. "+
			"To maximize your site's security, please complete the basic firewall setup:\n\n"+
			"1. Go to Wordfence > Firewall\n2. Click 'OPTIMIZE THE WORDFENCE FIREWALL'\n3. Follow the configuration steps", c.Site.Name))
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return alertOf(NameWordfenceWAF, strings.Join(msgs, "\n\n")), nil
}

// Redirects404 lists the redirects configured for 404 pages.
type Redirects404 struct {
	Site *Site
	DB   OptionReader
}

func (c *Redirects404) Name() string { return Name404Redirects }

func (c *Redirects404) Run(ctx context.Context) (*Alert, error) {
	a, err := c.DB.OptionArray(ctx, "wk_404_redirects")
	if err != nil {
		return nil, err
	}
	rows := a.Arrays()
	if len(rows) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 404 Redirect Links Report for %s\n\nFound %d redirect(s):\n\n", c.Site.Name, len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "From: %s To: %s\n\n", r.String("from"), r.String("to"))
	}
	return alertOf(Name404Redirects, strings.TrimRight(b.String(), "\n")), nil
}

// PluginAutoUpdates warns about plugins updating themselves.
type PluginAutoUpdates struct {
	Site *Site
	DB   OptionReader
}

func (c *PluginAutoUpdates) Name() string { return NamePluginAutoUpdates }

func (c *PluginAutoUpdates) Run(ctx context.Context) (*Alert, error) {
	a, err := c.DB.OptionArray(ctx, "auto_update_plugins")
	if err != nil {
		return nil, err
	}
	plugins := a.Strings()
	if len(plugins) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Warning: The following plugins have auto-updates enabled on %s:\n", c.Site.Name)
	for _, p := range plugins {
		b.WriteString("- " + p + "\n")
	}
	b.WriteString("\nAutomatic updates may cause compatibility issues or site breakage. Consider disabling auto-updates and managing updates manually.")
	return alertOf(NamePluginAutoUpdates, b.String()), nil
}

// RankMathRedirect warns when Rank Math runs without its redirections module.
type RankMathRedirect struct {
	Site *Site
	DB   OptionReader
}

func (c *RankMathRedirect) Name() string { return NameRankMathRedirect }

func (c *RankMathRedirect) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, rankMathPlugin)
	if err != nil || !active {
		return nil, err
	}
	modules, err := c.DB.OptionArray(ctx, "rank_math_modules")
	if err != nil {
		return nil, err
	}
	if modules.Contains("redirections") {
		return nil, nil
	}
	return alertOf(NameRankMathRedirect, fmt.Sprintf("Warning: The Rank Math Redirect module is not enabled on %s.", c.Site.Name)), nil
}

// BillwerkSettings checks the Billwerk+ gateway order status mapping.
type BillwerkSettings struct {
	Site *Site
	DB   OptionReader
}

func (c *BillwerkSettings) Name() string { return NameBillwerkSettings }

func (c *BillwerkSettings) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, billwerkPlugin)
	if err != nil || !active {
		return nil, err
	}
	s, err := c.DB.OptionArray(ctx, "woocommerce_reepay_checkout_settings")
	if err != nil {
		return nil, err
	}
	if s.String("enable_sync") == "yes" &&
		s.String("status_created") == billwerkStatus+"pending" &&
		s.String("status_authorized") == billwerkStatus+"processing" &&
		s.String("status_settled") == billwerkStatus+"completed" {
		return nil, nil
	}
	text := fmt.Sprintf("Warning: Wrong Billwerk payment settings on %s\nPlease set the following settings: \n"+
		"Sync statuses to Enable sync, \n"+
		"Status: Billwerk+ Pay Created to 'Pending Payment', \n"+
		"Status: Billwerk+ Pay Authorized to 'Processing', \n"+
		"Status: Billwerk+ Pay Settled to 'Completed'.", c.Site.Name)
	return alertOf(NameBillwerkSettings, text), nil
}

// UpdraftBackups warns when UpdraftPlus has not produced a backup in two
// days. Installs younger than three days are skipped.
type UpdraftBackups struct {
	Site *Site
	DB   OptionReader
	Now  func() time.Time
}

func (c *UpdraftBackups) Name() string { return NameUpdraftBackups }

func (c *UpdraftBackups) Run(ctx context.Context) (*Alert, error) {
	active, err := c.DB.PluginActive(ctx, updraftPlugin)
	if err != nil || !active {
		return nil, err
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	raw, ok, err := c.DB.Option(ctx, "updraft_install_time")
	if err != nil {
		return nil, err
	}
	installed, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if !ok || perr != nil || installed <= 0 || now.Sub(time.Unix(installed, 0)) < updraftGrace {
		return nil, nil
	}
	last, err := c.DB.OptionArray(ctx, "updraft_last_backup")
	if err != nil {
		return nil, err
	}
	taken := "never"
	if ts, err := strconv.ParseInt(last.String("backup_time"), 10, 64); err == nil && ts > 0 {
		at := time.Unix(ts, 0)
		if now.Sub(at) <= updraftMaxAge {
			return nil, nil
		}
		taken = humanize.RelTime(at, now, "ago", "from now")
	}
	text := fmt.Sprintf("⚠️ Warning: No recent UpdraftPlus backup found for %s.\nLast backup was taken: %s", c.Site.Name, taken)
	return alertOf(NameUpdraftBackups, text), nil
}
