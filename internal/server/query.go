package server

import (
	"fmt"
	"slices"
	"strings"

	"threatmap/internal/common"
	"threatmap/internal/threat"
)

// threatQuery filters snapshot records. Empty fields match everything.
type threatQuery struct {
	Severity common.Severity
	Kind     string
	Origin   common.Tier
}

// parseThreatQuery validates filter values looked up through get, which
// is backed by URL query parameters or gRPC request fields.
func parseThreatQuery(get func(string) string) (threatQuery, error) {
	var q threatQuery

	if s := strings.ToLower(strings.TrimSpace(get("severity"))); s != "" {
		sev := common.Severity(s)
		if common.Classify(s) != sev {
			return q, fmt.Errorf("unknown severity %q", s)
		}
		q.Severity = sev
	}
	if k := strings.ToLower(strings.TrimSpace(get("kind"))); k != "" {
		if !common.IsKnownKind(k) && k != common.KindUnknown {
			return q, fmt.Errorf("unknown kind %q", k)
		}
		q.Kind = k
	}
	if o := strings.ToLower(strings.TrimSpace(get("origin"))); o != "" {
		tier := common.Tier(o)
		if !slices.Contains(common.Tiers, tier) {
			return q, fmt.Errorf("unknown origin %q", o)
		}
		q.Origin = tier
	}
	return q, nil
}

func (q threatQuery) match(r threat.ThreatRecord) bool {
	if q.Severity != "" && r.Severity != q.Severity {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Origin != "" && r.Origin != q.Origin {
		return false
	}
	return true
}

// key is the cache key of q's response for one snapshot cycle.
func (q threatQuery) key(cycleID string) string {
	return cycleID + "|" + string(q.Severity) + "|" + q.Kind + "|" + string(q.Origin)
}

// threatList is the body of filtered record responses.
type threatList struct {
	CycleID  string                `json:"cycle_id"`
	Origin   common.Tier           `json:"origin"`
	Degraded bool                  `json:"degraded"`
	Count    int                   `json:"count"`
	Records  []threat.ThreatRecord `json:"records"`
}

func newThreatList(snap *threat.Snapshot, records []threat.ThreatRecord) threatList {
	if records == nil {
		records = []threat.ThreatRecord{}
	}
	return threatList{
		CycleID:  snap.CycleID(),
		Origin:   snap.Origin(),
		Degraded: snap.Degraded(),
		Count:    len(records),
		Records:  records,
	}
}
