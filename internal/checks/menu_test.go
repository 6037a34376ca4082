package checks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/wordpress"
)

type memSnapshots map[string][]byte

func (m memSnapshots) PutSnapshot(_ context.Context, key string, data []byte) error {
	m[key] = append([]byte(nil), data...)
	return nil
}

func (m memSnapshots) GetSnapshot(_ context.Context, key string) ([]byte, time.Time, bool, error) {
	b, ok := m[key]
	return b, time.Time{}, ok, nil
}

type fakeMenu struct{ items []wordpress.MenuItem }

func (f *fakeMenu) MenuItems(context.Context, string) ([]wordpress.MenuItem, error) {
	return f.items, nil
}

func TestDiffMenuByID(t *testing.T) {
	t.Parallel()

	prev := []wordpress.MenuItem{{ID: 1, Title: "Home"}, {ID: 2, Title: "Shop"}}
	cur := []wordpress.MenuItem{{ID: 1, Title: "Home"}, {ID: 3, Title: "Blog"}}
	d := DiffMenu(prev, cur)
	assert.Equal(t, []wordpress.MenuItem{{ID: 3, Title: "Blog"}}, d.Added)
	assert.Equal(t, []wordpress.MenuItem{{ID: 2, Title: "Shop"}}, d.Removed)

	renamed := []wordpress.MenuItem{{ID: 1, Title: "Start"}, {ID: 2, Title: "Store"}}
	assert.True(t, DiffMenu(prev, renamed).Empty())
}

func TestMenuCheckBaselineThenDiff(t *testing.T) {
	t.Parallel()

	src := &fakeMenu{items: []wordpress.MenuItem{{ID: 1, Title: "Home"}, {ID: 2, Title: "Shop"}}}
	store := memSnapshots{}
	c := &Menu{Slug: "main-menu", Source: src, Store: store}

	a, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a, "first run records the baseline")
	assert.Contains(t, store, "menu:main-menu")

	src.items = []wordpress.MenuItem{{ID: 1, Title: "Home"}, {ID: 3, Title: "Blog"}}
	a, err = c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Menu item changed for 'main-menu'\nAdded items:\n- Blog (ID: 3)\nRemoved items:\n- Shop (ID: 2)\n", a.Text)

	a, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a, "snapshot was refreshed")

	src.items = []wordpress.MenuItem{{ID: 1, Title: "Start"}, {ID: 3, Title: "Blog"}}
	a, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a, "title edits are not reported")
	assert.JSONEq(t, `[{"ID":1,"title":"Start"},{"ID":3,"title":"Blog"}]`, string(store["menu:main-menu"]))
}

func TestMenuCheckWithoutSlug(t *testing.T) {
	t.Parallel()

	a, err := (&Menu{}).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}
