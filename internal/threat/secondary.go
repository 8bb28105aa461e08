package threat

import (
	"bytes"
	"context"
	"math/rand/v2"
	"mime"
	"net/http"
	"strings"

	"threatmap/internal/common"
)

// DefaultSecondaryURL is the plain-text IP reputation list.
const DefaultSecondaryURL = "https://reputation.alienvault.com/reputation.generic"

// SecondaryFeed fetches the plain-text reputation list. The list carries no
// geolocation or severity, so both are synthesized per entry.
type SecondaryFeed struct {
	url     string
	client  *http.Client
	parser  *ReputationListParser
	weights SeverityWeights
	rng     *lockedRand
}

// SecondaryOption configures a SecondaryFeed.
type SecondaryOption func(*SecondaryFeed)

// WithSeverityWeights overrides the severity distribution. Invalid weights
// are ignored.
func WithSeverityWeights(w SeverityWeights) SecondaryOption {
	return func(s *SecondaryFeed) {
		if w.Valid() {
			s.weights = w
		}
	}
}

// WithSecondaryRand sets the random source, mainly for deterministic tests.
func WithSecondaryRand(r *rand.Rand) SecondaryOption {
	return func(s *SecondaryFeed) { s.rng = newLockedRand(r) }
}

// WithLineLimit overrides how many usable lines are read.
func WithLineLimit(n int) SecondaryOption {
	return func(s *SecondaryFeed) { s.parser.Limit = n }
}

// NewSecondaryFeed creates a secondary feed client.
func NewSecondaryFeed(url string, client *http.Client, opts ...SecondaryOption) *SecondaryFeed {
	if client == nil {
		client = DefaultHTTPClient(0)
	}
	s := &SecondaryFeed{
		url:     url,
		client:  client,
		parser:  &ReputationListParser{Limit: MaxSecondaryLines},
		weights: DefaultSeverityWeights(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = newLockedRand(nil)
	}
	return s
}

func (s *SecondaryFeed) Name() string { return string(common.TierSecondary) }

// Fetch downloads the list and synthesizes coordinates and severity for each
// IP. It fails with *NetworkError on transport errors or non-2xx responses
// and with *FormatError when the body is not text or has no usable lines.
func (s *SecondaryFeed) Fetch(ctx context.Context) ([]RawEntry, error) {
	resp, err := get(ctx, s.client, common.TierSecondary, s.url, "text/plain")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.HasPrefix(mediaType, "text/") {
			return nil, &FormatError{Reason: "unexpected content type " + ct, Err: err}
		}
	}

	// An oversized list is still usable since only its head is parsed.
	body, _, err := readBody(resp.Body)
	if err != nil {
		return nil, &NetworkError{Tier: common.TierSecondary, URL: sanitizeURL(s.url), Err: err}
	}

	ips, err := s.parser.Parse(bytes.NewReader(body))
	if len(ips) == 0 {
		if err != nil {
			return nil, &FormatError{Reason: "unreadable list", Err: err}
		}
		return nil, &FormatError{Reason: "no usable lines"}
	}

	entries := make([]RawEntry, 0, len(ips))
	for _, ip := range ips {
		entries = append(entries, RawEntry{
			Latitude:  float64Ptr(s.rng.latitude()),
			Longitude: float64Ptr(s.rng.longitude()),
			Kind:      common.KindMaliciousIP,
			Severity:  string(s.weights.draw(s.rng.Float64())),
			SourceIP:  ip,
		})
	}
	return entries, nil
}
