package threat

import (
	"math"
	"strconv"
	"strings"
	"time"

	"threatmap/internal/common"
)

// Normalizer converts raw entries of one acquisition cycle into
// ThreatRecords. All records of a cycle share the same acquisition time,
// which is also used as the epoch component of record IDs.
type Normalizer struct {
	acquiredAt time.Time
	epoch      int64
}

// NewNormalizer returns a Normalizer for a cycle acquired at acquiredAt.
func NewNormalizer(acquiredAt time.Time) *Normalizer {
	return &Normalizer{acquiredAt: acquiredAt, epoch: acquiredAt.UnixMilli()}
}

// Normalize converts one raw entry. Entries with missing or invalid
// coordinates are rejected with ErrInvalidCoordinates rather than placed
// at 0,0.
func (n *Normalizer) Normalize(raw RawEntry, origin common.Tier, index int) (ThreatRecord, error) {
	if !validLatitude(raw.Latitude) || !validLongitude(raw.Longitude) {
		return ThreatRecord{}, ErrInvalidCoordinates
	}
	sev := common.Classify(raw.Severity)
	return ThreatRecord{
		ID:         recordID(origin, index, n.epoch),
		Latitude:   *raw.Latitude,
		Longitude:  *raw.Longitude,
		Kind:       normalizeKind(raw.Kind),
		Severity:   sev,
		Color:      common.ColorOf(sev),
		SourceIP:   strings.TrimSpace(raw.SourceIP),
		ObservedAt: n.observedAt(raw.Timestamp),
		Origin:     origin,
	}, nil
}

// NormalizeAll normalizes raws in order, dropping rejected entries. The
// index in each ID is the entry's position in raws.
func (n *Normalizer) NormalizeAll(raws []RawEntry, origin common.Tier) ([]ThreatRecord, int) {
	records := make([]ThreatRecord, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		rec, err := n.Normalize(raw, origin, i)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, dropped
}

func (n *Normalizer) observedAt(ts string) time.Time {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return n.acquiredAt
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC()
		}
	}
	// Some feeds send Unix seconds or milliseconds.
	if v, err := strconv.ParseInt(ts, 10, 64); err == nil && v > 0 {
		if len(ts) >= 13 {
			return time.UnixMilli(v).UTC()
		}
		return time.Unix(v, 0).UTC()
	}
	return n.acquiredAt
}

func recordID(origin common.Tier, index int, epoch int64) string {
	return string(origin) + "-" + strconv.Itoa(index) + "-" + strconv.FormatInt(epoch, 10)
}

func normalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	if common.IsKnownKind(k) {
		return k
	}
	return common.KindUnknown
}

func validLatitude(v *float64) bool {
	return v != nil && finite(*v) && *v >= -90 && *v <= 90
}

func validLongitude(v *float64) bool {
	return v != nil && finite(*v) && *v >= -180 && *v <= 180
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
