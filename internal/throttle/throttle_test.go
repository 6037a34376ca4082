package throttle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/storage"
	logx "sitewatch/pkg/logx"
)

func newStoreThrottle(t *testing.T) *Throttle {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "t.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	th, err := Open(context.Background(), Config{}, st, logx.Nop(), nil)
	require.NoError(t, err)
	return th
}

func TestShouldSuppressSecondCall(t *testing.T) {
	t.Parallel()

	th := newStoreThrottle(t)
	g := th.Gate("fatal", For(time.Hour))
	ctx := context.Background()

	assert.False(t, g.ShouldSuppress(ctx, "Fatal Error [1]: boom"))
	assert.True(t, g.ShouldSuppress(ctx, "Fatal Error [1]: boom"))
	assert.False(t, g.ShouldSuppress(ctx, "Fatal Error [1]: other"))
}

func TestWindowReopensAfterExpiry(t *testing.T) {
	t.Parallel()

	th := newStoreThrottle(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }
	g := th.Gate("menu", For(5*time.Minute))
	ctx := context.Background()

	require.False(t, g.ShouldSuppress(ctx, "main"))
	now = now.Add(4 * time.Minute)
	assert.True(t, g.ShouldSuppress(ctx, "main"))
	now = now.Add(2 * time.Minute)
	assert.False(t, g.ShouldSuppress(ctx, "main"))
}

func TestForeverUntilCleared(t *testing.T) {
	t.Parallel()

	th := newStoreThrottle(t)
	g := th.Gate("wordfence", Forever())
	ctx := context.Background()

	require.False(t, g.ShouldSuppress(ctx, "issue-42"))
	th.now = func() time.Time { return time.Now().AddDate(50, 0, 0) }
	assert.True(t, g.ShouldSuppress(ctx, "issue-42"))

	require.NoError(t, g.Clear(ctx, "issue-42"))
	assert.False(t, g.ShouldSuppress(ctx, "issue-42"))
}

func TestUntilNextLocal(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	p := UntilNextLocal(8, loc)
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 5, 10, 7, 59, 0, 0, loc), time.Date(2024, 5, 10, 8, 0, 0, 0, loc)},
		{time.Date(2024, 5, 10, 8, 0, 0, 0, loc), time.Date(2024, 5, 11, 8, 0, 0, 0, loc)},
		{time.Date(2024, 5, 10, 23, 30, 0, 0, loc), time.Date(2024, 5, 11, 8, 0, 0, 0, loc)},
		{time.Date(2024, 5, 31, 9, 0, 0, 0, loc), time.Date(2024, 6, 1, 8, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		assert.True(t, tc.want.Equal(p(tc.now)), "now=%s got=%s", tc.now, p(tc.now))
	}
}

func TestFatalErrorOncePerMorningBoundary(t *testing.T) {
	t.Parallel()

	th := newStoreThrottle(t)
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, loc)
	th.now = func() time.Time { return now }
	g := th.Gate("fatal", UntilNextLocal(8, loc))
	ctx := context.Background()
	msg := "Fatal Error [1]: x in /a.php on line 3"

	require.False(t, g.ShouldSuppress(ctx, msg))
	now = time.Date(2024, 5, 11, 7, 59, 0, 0, loc)
	assert.True(t, g.ShouldSuppress(ctx, msg))
	now = time.Date(2024, 5, 11, 8, 0, 0, 0, loc)
	assert.False(t, g.ShouldSuppress(ctx, msg))
}

type failingBackend struct{}

func (failingBackend) Reserve(context.Context, string, time.Time, time.Time) (bool, error) {
	return false, errors.New("disk full")
}
func (failingBackend) Clear(context.Context, string) error { return errors.New("disk full") }

func TestBackendErrorFailsOpen(t *testing.T) {
	t.Parallel()

	g := New(failingBackend{}, logx.Nop(), nil).Gate("x", For(time.Hour))
	assert.False(t, g.ShouldSuppress(context.Background(), "a"))
	assert.False(t, g.ShouldSuppress(context.Background(), "a"))
}

func TestKeyIsStablePerKind(t *testing.T) {
	t.Parallel()

	th := New(failingBackend{}, logx.Nop(), nil)
	a := th.Gate("fatal", For(time.Minute))
	b := th.Gate("menu", For(time.Minute))
	assert.Equal(t, a.Key("same"), a.Key("same"))
	assert.NotEqual(t, a.Key("same"), b.Key("same"))
	assert.Regexp(t, `^fatal:[0-9a-f]{16}$`, a.Key("same"))
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	th, err := Open(ctx, Config{Driver: "redis", Redis: RedisConfig{Addr: addr, Prefix: "sitewatch:test:" + t.Name() + ":"}}, nil, logx.Nop(), nil)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer th.Close()

	g := th.Gate("fatal", For(time.Minute))
	content := time.Now().String()
	defer func() { _ = g.Clear(ctx, content) }()

	assert.False(t, g.ShouldSuppress(ctx, content))
	assert.True(t, g.ShouldSuppress(ctx, content))
	require.NoError(t, g.Clear(ctx, content))
	assert.False(t, g.ShouldSuppress(ctx, content))
}
