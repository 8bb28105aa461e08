package threat

import (
	"context"
	"time"

	"threatmap/internal/common"
)

// RawEntry is a feed record in source-native shape, before normalization.
// Coordinates are pointers so that an absent value can be told apart from 0.
type RawEntry struct {
	Latitude  *float64
	Longitude *float64
	Kind      string
	Severity  string
	SourceIP  string
	Timestamp string
}

// ThreatRecord is the canonical, normalized threat indicator.
type ThreatRecord struct {
	ID         string          `json:"id"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Kind       string          `json:"kind"`
	Severity   common.Severity `json:"severity"`
	Color      common.Color    `json:"color"`
	SourceIP   string          `json:"source_ip"`
	ObservedAt time.Time       `json:"observed_at"`
	Origin     common.Tier     `json:"origin"`
}

// ThreatFetcher fetches raw entries from one network tier.
type ThreatFetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]RawEntry, error)
}

// ThreatGenerator produces records without any network dependency. It must
// always return exactly count records.
type ThreatGenerator interface {
	Generate(count int) []ThreatRecord
}

// timedGenerator is implemented by generators that can stamp records with
// the cycle's acquisition time.
type timedGenerator interface {
	GenerateAt(count int, now time.Time) []ThreatRecord
}

func float64Ptr(v float64) *float64 { return &v }
