// Package fetch retrieves command script text from paste sites.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one retrieval.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBytes caps the accepted script size.
	DefaultMaxBytes = 1 << 20
)

// ErrTooLarge is returned when a response exceeds the size limit.
var ErrTooLarge = errors.New("response body too large")

// Fetcher resolves a link to script text.
type Fetcher interface {
	Fetch(ctx context.Context, link string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, link string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, link string) (string, error) { return f(ctx, link) }

var (
	suffixRawSites = []string{"gist.github.com", "rentry.co"}
	pathRawSites   = []string{"pastebin.com", "pastes.io", "hastebin.com"}
)

// RawLink rewrites a paste link to the site's raw-text form and forces
// https. Links that already mention "raw" keep their path.
func RawLink(link string) string {
	if !strings.HasPrefix(link, "https://") {
		if i := strings.Index(link, "://"); i >= 0 {
			link = link[i+3:]
		}
		link = "https://" + link
	}
	if strings.Contains(link, "raw") {
		return link
	}
	for _, site := range suffixRawSites {
		if strings.Contains(link, site) {
			return link + "/raw"
		}
	}
	for _, site := range pathRawSites {
		if strings.Contains(link, site) {
			parts := strings.Split(strings.TrimPrefix(link, "https://"), "/")
			parts = append(parts[:1], append([]string{"raw"}, parts[1:]...)...)
			return "https://" + strings.Join(parts, "/")
		}
	}
	return link
}

// HTTP fetches scripts over HTTP(S).
type HTTP struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTP returns a fetcher with the given timeout and size cap; zero values
// take the defaults.
func NewHTTP(timeout time.Duration, maxBytes int64) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTP{Client: &http.Client{Timeout: timeout}, MaxBytes: maxBytes}
}

// Fetch retrieves the raw form of link.
func (h *HTTP) Fetch(ctx context.Context, link string) (string, error) {
	url := RawLink(link)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	limit := h.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	if int64(len(body)) > limit {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, limit)
	}
	return string(body), nil
}
