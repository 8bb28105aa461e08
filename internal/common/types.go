package common

// Tier identifies one stage of the acquisition fallback chain.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
	TierSynthetic Tier = "synthetic"
)

// Tiers lists the fallback chain in the order it is walked.
var Tiers = []Tier{TierPrimary, TierSecondary, TierSynthetic}

// Next returns the tier attempted after t fails. The synthetic tier is
// terminal and has no successor.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierPrimary:
		return TierSecondary, true
	case TierSecondary:
		return TierSynthetic, true
	default:
		return "", false
	}
}

// Degraded reports whether data from t means the primary feed was unusable.
func (t Tier) Degraded() bool { return t != TierPrimary }

// Threat kinds recognised by the normalizer.
const (
	KindMalware     = "malware"
	KindRansomware  = "ransomware"
	KindPhishing    = "phishing"
	KindDDoS        = "ddos"
	KindBruteForce  = "brute_force"
	KindMaliciousIP = "malicious_ip"
	KindUnknown     = "unknown"
)

var knownKinds = map[string]struct{}{
	KindMalware:     {},
	KindRansomware:  {},
	KindPhishing:    {},
	KindDDoS:        {},
	KindBruteForce:  {},
	KindMaliciousIP: {},
}

// IsKnownKind reports whether k is one of the recognised kinds.
func IsKnownKind(k string) bool {
	_, ok := knownKinds[k]
	return ok
}
