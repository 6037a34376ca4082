// Package wordpress reads site state straight from the WordPress database and
// from the public REST API.
package wordpress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var ErrNotConfigured = errors.New("wordpress: database not configured")

// DBConfig describes the MySQL connection. DSN wins over the discrete fields.
type DBConfig struct {
	DSN         string
	Host        string
	User        string
	Password    string
	Name        string
	TablePrefix string
	Timeout     time.Duration
}

func (c DBConfig) Configured() bool {
	return strings.TrimSpace(c.DSN) != "" || (strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.Name) != "")
}

func (c DBConfig) dsn() string {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.Host
	if !strings.Contains(mc.Addr, ":") {
		mc.Addr += ":3306"
	}
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mc.Timeout = timeout
	mc.ReadTimeout = timeout
	return mc.FormatDSN()
}

// Issue is an unresolved Wordfence scan finding.
type Issue struct {
	ID       int64
	Severity int
	ShortMsg string
}

// MenuItem is a nav menu entry. ID is the stable identity used for diffs.
type MenuItem struct {
	ID    int64  `json:"ID"`
	Title string `json:"title"`
}

// DB is a read-only view over the WordPress tables.
type DB struct {
	db     *sql.DB
	prefix string
}

func OpenDB(cfg DBConfig) (*DB, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("wordpress db: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewDB(db, cfg.TablePrefix), nil
}

// NewDB wraps an existing handle. An empty prefix means "wp_".
func NewDB(db *sql.DB, prefix string) *DB {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "wp_"
	}
	return &DB{db: db, prefix: prefix}
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) table(name string) string { return d.prefix + name }

// AutoloadBytes sums the size of every autoloaded option value.
func (d *DB) AutoloadBytes(ctx context.Context) (int64, error) {
	q := "SELECT COALESCE(SUM(OCTET_LENGTH(option_value)), 0) FROM " + d.table("options") +
		" WHERE autoload IN ('yes', 'on', 'auto-on', 'auto')"
	var n int64
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("autoload size: %w", err)
	}
	return n, nil
}

// Option returns the raw option value and whether the row exists.
func (d *DB) Option(ctx context.Context, name string) (string, bool, error) {
	q := "SELECT option_value FROM " + d.table("options") + " WHERE option_name = ? LIMIT 1"
	var v string
	err := d.db.QueryRowContext(ctx, q, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("option %s: %w", name, err)
	}
	return v, true, nil
}

// PluginActive reports whether file (e.g. "woocommerce/woocommerce.php") is
// listed in the serialized active_plugins option.
func (d *DB) PluginActive(ctx context.Context, file string) (bool, error) {
	q := "SELECT COUNT(*) FROM " + d.table("options") + " WHERE option_name = 'active_plugins' AND option_value LIKE ?"
	var n int
	if err := d.db.QueryRowContext(ctx, q, `%"`+file+`"%`).Scan(&n); err != nil {
		return false, fmt.Errorf("active plugins: %w", err)
	}
	return n > 0, nil
}

// WordfenceIssues lists new issues at or above minSeverity, oldest first.
func (d *DB) WordfenceIssues(ctx context.Context, minSeverity int) ([]Issue, error) {
	q := "SELECT id, severity, shortMsg FROM " + d.table("wfissues") +
		" WHERE status = 'new' AND severity >= ? ORDER BY id"
	rows, err := d.db.QueryContext(ctx, q, minSeverity)
	if err != nil {
		return nil, fmt.Errorf("wordfence issues: %w", err)
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		var it Issue
		if err := rows.Scan(&it.ID, &it.Severity, &it.ShortMsg); err != nil {
			return nil, fmt.Errorf("wordfence issues: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MenuItems returns the items of the nav menu with the given slug, in menu order.
func (d *DB) MenuItems(ctx context.Context, slug string) ([]MenuItem, error) {
	q := "SELECT p.ID, p.post_title FROM " + d.table("posts") + " p" +
		" JOIN " + d.table("term_relationships") + " tr ON tr.object_id = p.ID" +
		" JOIN " + d.table("term_taxonomy") + " tt ON tt.term_taxonomy_id = tr.term_taxonomy_id AND tt.taxonomy = 'nav_menu'" +
		" JOIN " + d.table("terms") + " t ON t.term_id = tt.term_id" +
		" WHERE t.slug = ? AND p.post_type = 'nav_menu_item' AND p.post_status = 'publish'" +
		" ORDER BY p.menu_order"
	rows, err := d.db.QueryContext(ctx, q, slug)
	if err != nil {
		return nil, fmt.Errorf("menu items: %w", err)
	}
	defer rows.Close()

	out := []MenuItem{}
	for rows.Next() {
		var it MenuItem
		if err := rows.Scan(&it.ID, &it.Title); err != nil {
			return nil, fmt.Errorf("menu items: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

var paidStatuses = []any{"wc-processing", "wc-completed", "wc-on-hold"}

// HPOSEnabled reports whether WooCommerce stores orders in its own tables.
func (d *DB) HPOSEnabled(ctx context.Context) (bool, error) {
	v, _, err := d.Option(ctx, "woocommerce_custom_orders_table_enabled")
	if err != nil {
		return false, err
	}
	return v == "yes", nil
}

// PaidOrdersSince counts processing, completed and on-hold orders created
// after since. It reads the HPOS table when that storage is active.
func (d *DB) PaidOrdersSince(ctx context.Context, since time.Time) (int, error) {
	hpos, err := d.HPOSEnabled(ctx)
	if err != nil {
		return 0, err
	}
	var q string
	if hpos {
		q = "SELECT COUNT(*) FROM " + d.table("wc_orders") +
			" WHERE type = 'shop_order' AND status IN (?, ?, ?) AND date_created_gmt > ?"
	} else {
		q = "SELECT COUNT(*) FROM " + d.table("posts") +
			" WHERE post_type = 'shop_order' AND post_status IN (?, ?, ?) AND post_date_gmt > ?"
	}
	args := append(append([]any(nil), paidStatuses...), since.UTC().Format("2006-01-02 15:04:05"))
	var n int
	if err := d.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("paid orders: %w", err)
	}
	return n, nil
}
