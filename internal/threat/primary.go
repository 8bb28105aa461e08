package threat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"threatmap/internal/common"
)

// DefaultPrimaryURL is the live JSON threat feed.
const DefaultPrimaryURL = "https://threatfeeds.io/api/v1/latest"

// PrimaryFeed fetches the geolocated JSON threat feed.
type PrimaryFeed struct {
	url    string
	client *http.Client
}

// NewPrimaryFeed creates a primary feed client. A nil client gets the
// default timeout.
func NewPrimaryFeed(url string, client *http.Client) *PrimaryFeed {
	if client == nil {
		client = DefaultHTTPClient(0)
	}
	return &PrimaryFeed{url: url, client: client}
}

func (p *PrimaryFeed) Name() string { return string(common.TierPrimary) }

// Fetch downloads and decodes the feed. It fails with *NetworkError on
// transport errors or non-2xx responses and with *SchemaError when the body
// has no "threats" array.
func (p *PrimaryFeed) Fetch(ctx context.Context) ([]RawEntry, error) {
	resp, err := get(ctx, p.client, common.TierPrimary, p.url, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, truncated, err := readBody(resp.Body)
	if err != nil {
		return nil, &NetworkError{Tier: common.TierPrimary, URL: sanitizeURL(p.url), Err: err}
	}
	if truncated {
		return nil, &SchemaError{Reason: "payload exceeds size limit"}
	}
	return decodePrimary(body)
}

type primaryThreat struct {
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
	Type      json.RawMessage `json:"type"`
	Severity  json.RawMessage `json:"severity"`
	SourceIP  json.RawMessage `json:"source_ip"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func decodePrimary(body []byte) ([]RawEntry, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &SchemaError{Reason: "body is not a JSON object", Err: err}
	}
	rawThreats, ok := payload["threats"]
	if !ok || isNull(rawThreats) {
		return nil, &SchemaError{Reason: `missing "threats" array`}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawThreats, &items); err != nil {
		return nil, &SchemaError{Reason: `"threats" is not an array`, Err: err}
	}

	entries := make([]RawEntry, 0, len(items))
	for _, item := range items {
		var t primaryThreat
		if err := json.Unmarshal(item, &t); err != nil {
			// Keep the slot so indices match the feed; the normalizer
			// drops it for lack of coordinates.
			entries = append(entries, RawEntry{})
			continue
		}
		entries = append(entries, RawEntry{
			Latitude:  parseCoord(t.Latitude),
			Longitude: parseCoord(t.Longitude),
			Kind:      rawString(t.Type),
			Severity:  rawString(t.Severity),
			SourceIP:  rawString(t.SourceIP),
			Timestamp: rawString(t.Timestamp),
		})
	}
	return entries, nil
}

// parseCoord accepts a JSON number or a numeric string.
func parseCoord(raw json.RawMessage) *float64 {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

// rawString returns strings as-is and numbers as their literal text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
