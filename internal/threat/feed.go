package threat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"threatmap/internal/common"
)

const (
	// maxFeedSize caps how much of a feed response is read.
	maxFeedSize = 10 * 1024 * 1024 // 10 MB

	defaultFetchTimeout = 15 * time.Second
	userAgent           = "threatmap/1.0 (+feed acquisition)"
)

// DefaultHTTPClient returns the client used by the feed clients when none is
// supplied.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &http.Client{Timeout: timeout}
}

// get issues a GET and returns the response only for 2xx statuses. Any
// other outcome is a *NetworkError and the body is already closed.
func get(ctx context.Context, client *http.Client, tier common.Tier, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{Tier: tier, URL: sanitizeURL(rawURL), Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Tier: tier, URL: sanitizeURL(rawURL), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &NetworkError{Tier: tier, URL: sanitizeURL(rawURL), StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// readBody reads at most maxFeedSize bytes. truncated is true when the body
// was larger than that, in which case only the head is returned.
func readBody(r io.Reader) (body []byte, truncated bool, err error) {
	lr := &io.LimitedReader{R: r, N: maxFeedSize + 1}
	body, err = io.ReadAll(lr)
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxFeedSize {
		return body[:maxFeedSize], true, nil
	}
	return body, false, nil
}

// sanitizeURL strips everything except scheme and host from a URL for safe
// logging.
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "<invalid-url>"
	}
	return u.Scheme + "://" + u.Host
}
