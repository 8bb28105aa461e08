package threat

import (
	"math/rand/v2"
	"time"

	"threatmap/internal/common"
)

// DefaultSyntheticCount is how many records the terminal fallback produces.
const DefaultSyntheticCount = 50

var (
	syntheticKinds = []string{
		common.KindMalware,
		common.KindRansomware,
		common.KindPhishing,
		common.KindDDoS,
		common.KindBruteForce,
	}
	syntheticSeverities = []common.Severity{
		common.SeverityHigh,
		common.SeverityMedium,
		common.SeverityLow,
	}
)

// Generator produces plausible records with no network dependency. It is
// the terminal tier of the pipeline and cannot fail.
type Generator struct {
	rng *lockedRand
	now func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorRand sets the random source.
func WithGeneratorRand(r *rand.Rand) GeneratorOption {
	return func(g *Generator) { g.rng = newLockedRand(r) }
}

// WithClock sets the time source used for IDs and observation times.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a synthetic record generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = newLockedRand(nil)
	}
	return g
}

// Generate returns exactly count records; a negative count yields none.
func (g *Generator) Generate(count int) []ThreatRecord {
	return g.GenerateAt(count, g.now())
}

// GenerateAt is Generate with an explicit acquisition time, used for record
// IDs and as the upper bound of observation times.
func (g *Generator) GenerateAt(count int, now time.Time) []ThreatRecord {
	if count < 0 {
		count = 0
	}
	epoch := now.UnixMilli()
	records := make([]ThreatRecord, count)
	for i := range records {
		sev := syntheticSeverities[g.rng.IntN(len(syntheticSeverities))]
		age := time.Duration(g.rng.Float64() * float64(time.Hour))
		records[i] = ThreatRecord{
			ID:         recordID(common.TierSynthetic, i, epoch),
			Latitude:   g.rng.latitude(),
			Longitude:  g.rng.longitude(),
			Kind:       syntheticKinds[g.rng.IntN(len(syntheticKinds))],
			Severity:   sev,
			Color:      common.ColorOf(sev),
			SourceIP:   g.rng.dottedQuad(),
			ObservedAt: now.Add(-age).UTC(),
			Origin:     common.TierSynthetic,
		}
	}
	return records
}
