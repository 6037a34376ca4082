package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sitewatch/internal/wordpress"
)

const NameMenu = "menu"

// MenuSource lists the items of a nav menu. *wordpress.DB implements it.
type MenuSource interface {
	MenuItems(ctx context.Context, slug string) ([]wordpress.MenuItem, error)
}

// Snapshots persists baselines. storage.Store implements it.
type Snapshots interface {
	PutSnapshot(ctx context.Context, key string, data []byte) error
	GetSnapshot(ctx context.Context, key string) ([]byte, time.Time, bool, error)
}

// MenuDiff is the change between two menu snapshots.
type MenuDiff struct {
	Added   []wordpress.MenuItem
	Removed []wordpress.MenuItem
}

func (d MenuDiff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// DiffMenu partitions items by ID. An ID present on both sides is unchanged,
// whatever its title.
func DiffMenu(prev, cur []wordpress.MenuItem) MenuDiff {
	seen := func(items []wordpress.MenuItem) map[int64]bool {
		m := make(map[int64]bool, len(items))
		for _, it := range items {
			m[it.ID] = true
		}
		return m
	}
	inPrev, inCur := seen(prev), seen(cur)
	var d MenuDiff
	for _, it := range cur {
		if !inPrev[it.ID] {
			d.Added = append(d.Added, it)
		}
	}
	for _, it := range prev {
		if !inCur[it.ID] {
			d.Removed = append(d.Removed, it)
		}
	}
	return d
}

func FormatMenuChange(slug string, d MenuDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Menu item changed for '%s'\n", slug)
	if len(d.Added) > 0 {
		b.WriteString("Added items:\n")
		for _, it := range d.Added {
			fmt.Fprintf(&b, "- %s (ID: %d)\n", it.Title, it.ID)
		}
	}
	if len(d.Removed) > 0 {
		b.WriteString("Removed items:\n")
		for _, it := range d.Removed {
			fmt.Fprintf(&b, "- %s (ID: %d)\n", it.Title, it.ID)
		}
	}
	return b.String()
}

func menuKey(slug string) string { return "menu:" + slug }

// Menu compares the watched menu against its stored snapshot. The first run
// only records a baseline. The snapshot is refreshed whenever the items
// differ, including title-only edits, which are not reported.
type Menu struct {
	Slug   string
	Source MenuSource
	Store  Snapshots
}

func (c *Menu) Name() string { return NameMenu }

func (c *Menu) Run(ctx context.Context) (*Alert, error) {
	slug := strings.TrimSpace(c.Slug)
	if slug == "" {
		return nil, nil
	}
	cur, err := c.Source.MenuItems(ctx, slug)
	if err != nil {
		return nil, err
	}
	curJSON, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}

	raw, _, ok, err := c.Store.GetSnapshot(ctx, menuKey(slug))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.Store.PutSnapshot(ctx, menuKey(slug), curJSON)
	}
	if string(raw) == string(curJSON) {
		return nil, nil
	}

	var prev []wordpress.MenuItem
	if err := json.Unmarshal(raw, &prev); err != nil {
		// Unreadable baseline: start over.
		return nil, c.Store.PutSnapshot(ctx, menuKey(slug), curJSON)
	}
	if err := c.Store.PutSnapshot(ctx, menuKey(slug), curJSON); err != nil {
		return nil, err
	}
	d := DiffMenu(prev, cur)
	if d.Empty() {
		return nil, nil
	}
	return alertOf(NameMenu, FormatMenuChange(slug, d)), nil
}
