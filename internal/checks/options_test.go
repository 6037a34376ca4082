package checks

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/wordpress"
)

type fakeOptions struct {
	plugins map[string]bool
	opts    map[string]string
	arrays  map[string]wordpress.PHPArray
	waf     string
	err     error
}

func (f *fakeOptions) PluginActive(_ context.Context, file string) (bool, error) {
	return f.plugins[file], f.err
}

func (f *fakeOptions) Option(_ context.Context, name string) (string, bool, error) {
	v, ok := f.opts[name]
	return v, ok, f.err
}

func (f *fakeOptions) OptionArray(_ context.Context, name string) (wordpress.PHPArray, error) {
	if a, ok := f.arrays[name]; ok {
		return a, f.err
	}
	return wordpress.PHPArray{}, f.err
}

func (f *fakeOptions) WAFStatus(context.Context) (string, error) { return f.waf, f.err }

func TestWordfenceWAF(t *testing.T) {
	t.Parallel()

	db := &fakeOptions{plugins: map[string]bool{wordfencePlugin: true}, waf: "learning-mode"}
	a, err := (&WordfenceWAF{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Contains(t, a.Text, "Learning Mode on example.com")
	assert.Contains(t, a.Text, "Basic Protection Mode on example.com")
	assert.Contains(t, a.Text, "not fully configured on example.com")

	db = &fakeOptions{
		plugins: map[string]bool{wordfencePlugin: true},
		waf:     "enabled",
		opts:    map[string]string{"wordfence_protectionLevel": "extended", "wordfence_basicConfigured": "1"},
	}
	a, err = (&WordfenceWAF{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = (&WordfenceWAF{Site: testSite, DB: &fakeOptions{}}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a, "inactive plugin")
}

func TestRedirects404(t *testing.T) {
	t.Parallel()

	db := &fakeOptions{arrays: map[string]wordpress.PHPArray{
		"wk_404_redirects": {
			int64(0): map[any]any{"from": "/old", "to": "/new"},
			int64(1): map[any]any{"from": "/shop-old", "to": "/shop"},
		},
	}}
	a, err := (&Redirects404{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "📋 404 Redirect Links Report for example.com\n\nFound 2 redirect(s):\n\nFrom: /old To: /new\n\nFrom: /shop-old To: /shop", a.Text)

	a, err = (&Redirects404{Site: testSite, DB: &fakeOptions{}}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestPluginAutoUpdates(t *testing.T) {
	t.Parallel()

	db := &fakeOptions{arrays: map[string]wordpress.PHPArray{
		"auto_update_plugins": {int64(0): "akismet/akismet.php", int64(1): "hello.php"},
	}}
	a, err := (&PluginAutoUpdates{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Contains(t, a.Text, "auto-updates enabled on example.com:\n- akismet/akismet.php\n- hello.php\n")
}

func TestRankMathRedirect(t *testing.T) {
	t.Parallel()

	db := &fakeOptions{
		plugins: map[string]bool{rankMathPlugin: true},
		arrays:  map[string]wordpress.PHPArray{"rank_math_modules": {int64(0): "sitemap"}},
	}
	a, err := (&RankMathRedirect{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Warning: The Rank Math Redirect module is not enabled on example.com.", a.Text)

	db.arrays["rank_math_modules"][int64(1)] = "redirections"
	a, err = (&RankMathRedirect{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestBillwerkSettings(t *testing.T) {
	t.Parallel()

	good := wordpress.PHPArray{
		"enable_sync":       "yes",
		"status_created":    "wc-pending",
		"status_authorized": "wc-processing",
		"status_settled":    "wc-completed",
	}
	db := &fakeOptions{
		plugins: map[string]bool{billwerkPlugin: true},
		arrays:  map[string]wordpress.PHPArray{"woocommerce_reepay_checkout_settings": good},
	}
	a, err := (&BillwerkSettings{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)

	good["status_settled"] = "wc-processing"
	a, err = (&BillwerkSettings{Site: testSite, DB: db}).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Contains(t, a.Text, "Wrong Billwerk payment settings on example.com")
}

func TestUpdraftBackups(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	unix := func(d time.Duration) string { return strconv.FormatInt(now.Add(-d).Unix(), 10) }
	newDB := func(install string, last wordpress.PHPArray) *fakeOptions {
		return &fakeOptions{
			plugins: map[string]bool{updraftPlugin: true},
			opts:    map[string]string{"updraft_install_time": install},
			arrays:  map[string]wordpress.PHPArray{"updraft_last_backup": last},
		}
	}
	run := func(db *fakeOptions) *Alert {
		a, err := (&UpdraftBackups{Site: testSite, DB: db, Now: func() time.Time { return now }}).Run(context.Background())
		require.NoError(t, err)
		return a
	}

	assert.Nil(t, run(newDB(unix(24*time.Hour), nil)), "fresh install")
	assert.Nil(t, run(newDB(unix(30*24*time.Hour), wordpress.PHPArray{"backup_time": now.Add(-time.Hour).Unix()})))

	a := run(newDB(unix(30*24*time.Hour), nil))
	require.NotNil(t, a)
	assert.Equal(t, "⚠️ Warning: No recent UpdraftPlus backup found for example.com.\nLast backup was taken: never", a.Text)

	a = run(newDB(unix(30*24*time.Hour), wordpress.PHPArray{"backup_time": now.Add(-5 * 24 * time.Hour).Unix()}))
	require.NotNil(t, a)
	assert.Contains(t, a.Text, "Last backup was taken: 5 days ago")
}
