package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath-community/go-jmespath"
)

var ErrUnknownRoute = errors.New("wordpress: rest route not found")

const linksPath = "[].link"

// REST reads public content listings from /wp-json/wp/v2.
type REST struct {
	BaseURL string
	Timeout time.Duration
	HTTP    *http.Client
}

func restBase(postType string) string {
	switch postType {
	case "post":
		return "posts"
	case "page":
		return "pages"
	default:
		return postType
	}
}

// LatestLinks returns up to n permalinks of published items of postType,
// newest first.
func (r *REST) LatestLinks(ctx context.Context, postType string, n int) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(n))
	q.Set("orderby", "date")
	q.Set("order", "desc")
	q.Set("_fields", "link")
	return r.links(ctx, restBase(postType), q)
}

// OldestPostLink returns the permalink of the oldest published item of
// postType, or "" when there is none.
func (r *REST) OldestPostLink(ctx context.Context, postType string) (string, error) {
	q := url.Values{}
	q.Set("per_page", "1")
	q.Set("orderby", "date")
	q.Set("order", "asc")
	q.Set("_fields", "link")
	return first(r.links(ctx, restBase(postType), q))
}

// OldestTermLink returns the archive link of the term with the lowest id.
func (r *REST) OldestTermLink(ctx context.Context, taxonomy string) (string, error) {
	q := url.Values{}
	q.Set("per_page", "1")
	q.Set("orderby", "id")
	q.Set("order", "asc")
	q.Set("_fields", "link")
	return first(r.links(ctx, taxonomy, q))
}

func first(links []string, err error) (string, error) {
	if err != nil || len(links) == 0 {
		return "", err
	}
	return links[0], nil
}

func (r *REST) links(ctx context.Context, route string, q url.Values) ([]string, error) {
	base := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if base == "" {
		return nil, errors.New("wordpress: site url not configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := r.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	endpoint := base + "/wp-json/wp/v2/" + url.PathEscape(route) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wordpress rest %s: %w", route, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("wordpress rest %s: status %d", route, resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("wordpress rest %s: %w", route, err)
	}
	v, err := jmespath.Search(linksPath, doc)
	if err != nil {
		return nil, fmt.Errorf("wordpress rest %s: %w", route, err)
	}
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
