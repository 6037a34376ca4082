package checks

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Site is the monitored WordPress front end.
type Site struct {
	// URL is the home URL, e.g. https://www.example.com.
	URL string
	// Name is the host without "www.", used in alert texts.
	Name    string
	HTTP    *http.Client
	Timeout time.Duration
}

func (s *Site) home() string { return strings.TrimRight(s.URL, "/") }

func (s *Site) client() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return http.DefaultClient
}

type page struct {
	Status   int
	Header   http.Header
	Body     []byte
	RemoteIP string
}

// fetch performs method on url and reads at most 4 MiB of body.
func (s *Site) fetch(ctx context.Context, method, url string, browser bool) (page, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var p page
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if addr := info.Conn.RemoteAddr(); addr != nil {
				if host, _, err := net.SplitHostPort(addr.String()); err == nil {
					p.RemoteIP = host
				}
			}
		},
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, url, nil)
	if err != nil {
		return p, err
	}
	if browser {
		req.Header.Set("User-Agent", browserUA)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return p, err
	}
	defer resp.Body.Close()
	p.Status = resp.StatusCode
	p.Header = resp.Header
	if method != http.MethodHead {
		p.Body, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	}
	return p, err
}

// robotsMeta returns the content of the first <meta name="robots"> tag.
func robotsMeta(body []byte) (string, bool) {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) == "body" {
				return "", false
			}
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var metaName, content string
			for {
				k, v, more := z.TagAttr()
				switch strings.ToLower(string(k)) {
				case "name":
					metaName = strings.ToLower(strings.TrimSpace(string(v)))
				case "content":
					content = string(v)
				}
				if !more {
					break
				}
			}
			if metaName == "robots" {
				return content, true
			}
		}
	}
}

// noindex reports whether the page opts out of indexing through its robots
// meta tag or the X-Robots-Tag header.
func (p page) noindex() bool {
	if c, ok := robotsMeta(p.Body); ok && strings.Contains(strings.ToLower(c), "noindex") {
		return true
	}
	return strings.Contains(strings.ToLower(p.Header.Get("X-Robots-Tag")), "noindex")
}
