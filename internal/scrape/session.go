// Package scrape walks the NCP carpark listings and turns each carpark page
// into a ScrapedRecord ready for reconciliation.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/example/parking-prices/internal/models"
)

const DefaultDelay = 500 * time.Millisecond

// Browser loads pages. Close releases whatever the browser holds open.
type Browser interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// Archiver keeps a raw copy of every fetched carpark page.
type Archiver interface {
	Put(ctx context.Context, pageURL string, body []byte) error
}

// HTTPBrowser fetches pages with a plain HTTP client.
type HTTPBrowser struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPBrowser(timeout time.Duration) *HTTPBrowser {
	return &HTTPBrowser{Client: &http.Client{Timeout: timeout}, UserAgent: "parking-prices-scraper/1.0"}
}

func (b *HTTPBrowser) Get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", pageURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func (b *HTTPBrowser) Close() error {
	b.Client.CloseIdleConnections()
	return nil
}

// Session is the state of one scrape run. It paces page loads and is only
// valid inside WithSession.
type Session struct {
	browser Browser
	archive Archiver
	delay   time.Duration
	last    time.Time
	logger  *slog.Logger
}

type SessionOptions struct {
	Delay   time.Duration
	Archive Archiver
	Logger  *slog.Logger
}

// WithSession runs fn with a session over b and closes b on every exit path.
func WithSession(ctx context.Context, b Browser, opts SessionOptions, fn func(context.Context, *Session) error) (err error) {
	s := &Session{browser: b, archive: opts.Archive, delay: opts.Delay, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close browser: %w", cerr))
		}
	}()
	return fn(ctx, s)
}

func (s *Session) load(ctx context.Context, pageURL string) ([]byte, error) {
	if !s.last.IsZero() && s.delay > 0 {
		wait := s.delay - time.Since(s.last)
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	defer func() { s.last = time.Now() }()
	return s.browser.Get(ctx, pageURL)
}

// Links returns the distinct absolute links on pageURL accepted by keep, in
// page order.
func (s *Session) Links(ctx context.Context, pageURL string, keep func(string) bool) ([]string, error) {
	body, err := s.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return extractLinks(pageURL, body, keep)
}

// Carpark loads one carpark page and converts it. Unreadable tariffs or
// opening hours are logged and left out of the record.
func (s *Session) Carpark(ctx context.Context, pageURL string) (models.ScrapedRecord, error) {
	body, err := s.load(ctx, pageURL)
	if err != nil {
		return models.ScrapedRecord{}, err
	}
	if s.archive != nil {
		if err := s.archive.Put(ctx, pageURL, body); err != nil {
			s.logger.Warn("scrape_archive_failed", "url", pageURL, "error", err)
		}
	}
	payload, err := extractPayload(body)
	if err != nil {
		return models.ScrapedRecord{}, fmt.Errorf("%s: %w", pageURL, err)
	}
	rec, warnings := toRecord(pageURL, payload)
	for _, w := range warnings {
		s.logger.Debug("scrape_field_skipped", "url", pageURL, "error", w)
	}
	return rec, nil
}

func extractLinks(pageURL string, body []byte, keep func(string) bool) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	seen := make(map[string]bool)
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(a.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref).String()
				if !seen[abs] && (keep == nil || keep(abs)) {
					seen[abs] = true
					out = append(out, abs)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}
