package threat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/willf/bloom"

	"threatmap/internal/common"
)

// TierAttempt records how one tier fared during a cycle.
type TierAttempt struct {
	Tier     common.Tier   `json:"tier"`
	Error    string        `json:"error,omitempty"`
	Records  int           `json:"records"`
	Dropped  int           `json:"dropped,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Snapshot is the immutable result of one completed acquisition cycle.
// Accessors return copies so that a published snapshot can be shared by
// any number of readers.
type Snapshot struct {
	cycleID    string
	origin     common.Tier
	acquiredAt time.Time
	records    []ThreatRecord
	attempts   []TierAttempt
	ipIndex    *bloom.BloomFilter
}

func newSnapshot(origin common.Tier, acquiredAt time.Time, records []ThreatRecord, attempts []TierAttempt) *Snapshot {
	n := uint(len(records))
	if n == 0 {
		n = 1
	}
	index := bloom.NewWithEstimates(n, 0.01)
	for _, r := range records {
		index.AddString(r.SourceIP)
	}
	return &Snapshot{
		cycleID:    uuid.NewString(),
		origin:     origin,
		acquiredAt: acquiredAt,
		records:    records,
		attempts:   attempts,
		ipIndex:    index,
	}
}

// CycleID uniquely identifies the acquisition cycle.
func (s *Snapshot) CycleID() string { return s.cycleID }

// Origin is the tier that produced the records.
func (s *Snapshot) Origin() common.Tier { return s.origin }

// Degraded reports whether the records did not come from the primary feed.
func (s *Snapshot) Degraded() bool { return s.origin.Degraded() }

// AcquiredAt is the cycle's acquisition time.
func (s *Snapshot) AcquiredAt() time.Time { return s.acquiredAt }

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.records) }

// Records returns a copy of the records in feed order.
func (s *Snapshot) Records() []ThreatRecord {
	return append([]ThreatRecord(nil), s.records...)
}

// Attempts returns a copy of the per-tier attempt log.
func (s *Snapshot) Attempts() []TierAttempt {
	return append([]TierAttempt(nil), s.attempts...)
}

// Filter returns the records for which keep returns true.
func (s *Snapshot) Filter(keep func(ThreatRecord) bool) []ThreatRecord {
	var out []ThreatRecord
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// LookupIP returns the records whose source IP equals ip. The bloom index
// answers most misses without scanning.
func (s *Snapshot) LookupIP(ip string) []ThreatRecord {
	if !s.ipIndex.TestString(ip) {
		return nil
	}
	return s.Filter(func(r ThreatRecord) bool { return r.SourceIP == ip })
}

type snapshotJSON struct {
	CycleID    string         `json:"cycle_id"`
	Origin     common.Tier    `json:"origin"`
	Degraded   bool           `json:"degraded"`
	AcquiredAt time.Time      `json:"acquired_at"`
	Count      int            `json:"count"`
	Records    []ThreatRecord `json:"records"`
	Attempts   []TierAttempt  `json:"attempts"`
}

// MarshalJSON renders the snapshot for the API surface.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	records := s.records
	if records == nil {
		records = []ThreatRecord{}
	}
	return json.Marshal(snapshotJSON{
		CycleID:    s.cycleID,
		Origin:     s.origin,
		Degraded:   s.Degraded(),
		AcquiredAt: s.acquiredAt,
		Count:      len(s.records),
		Records:    records,
		Attempts:   s.attempts,
	})
}
