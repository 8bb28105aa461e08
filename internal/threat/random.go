package threat

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"threatmap/internal/common"
)

// lockedRand serialises access to a *rand.Rand, which is not safe for
// concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(r *rand.Rand) *lockedRand {
	if r == nil {
		now := uint64(time.Now().UnixNano())
		r = rand.New(rand.NewPCG(now, now>>1|1))
	}
	return &lockedRand{r: r}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// latitude and longitude are uniform over the full valid range.
func (l *lockedRand) latitude() float64  { return l.Float64()*180 - 90 }
func (l *lockedRand) longitude() float64 { return l.Float64()*360 - 180 }

func (l *lockedRand) dottedQuad() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("%d.%d.%d.%d", l.r.IntN(256), l.r.IntN(256), l.r.IntN(256), l.r.IntN(256))
}

// SeverityWeights is the distribution severities are drawn from when a
// feed carries none. Weights are relative and need not sum to one.
type SeverityWeights struct {
	High   float64 `mapstructure:"high" json:"high"`
	Medium float64 `mapstructure:"medium" json:"medium"`
	Low    float64 `mapstructure:"low" json:"low"`
}

// DefaultSeverityWeights is high 0.3, medium 0.3, low 0.4.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{High: 0.3, Medium: 0.3, Low: 0.4}
}

// Valid reports whether every weight is finite and non-negative and their
// sum is finite and positive.
func (w SeverityWeights) Valid() bool {
	for _, v := range []float64{w.High, w.Medium, w.Low} {
		if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	total := w.High + w.Medium + w.Low
	return total > 0 && !math.IsInf(total, 0)
}

func (w SeverityWeights) draw(u float64) common.Severity {
	total := w.High + w.Medium + w.Low
	x := u * total
	switch {
	case x < w.High:
		return common.SeverityHigh
	case x < w.High+w.Medium:
		return common.SeverityMedium
	default:
		return common.SeverityLow
	}
}
