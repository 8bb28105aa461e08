package threat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"threatmap/internal/common"
	"threatmap/internal/metrics"
)

var errTierNotConfigured = errors.New("tier not configured")

// Phase is the coarse state of the acquisition state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseSucceeded
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseSucceeded:
		return "succeeded"
	default:
		return "idle"
	}
}

// State is Idle, Fetching(tier) or Succeeded(tier).
type State struct {
	Phase Phase
	Tier  common.Tier
}

func (s State) String() string {
	if s.Phase == PhaseIdle {
		return s.Phase.String()
	}
	return fmt.Sprintf("%s(%s)", s.Phase, s.Tier)
}

// PipelineConfig wires the tiers of a Pipeline. A nil Primary or Secondary
// is treated as a tier that always fails.
type PipelineConfig struct {
	Primary        ThreatFetcher
	Secondary      ThreatFetcher
	Generator      ThreatGenerator
	SyntheticCount int
	Logger         *slog.Logger
	Now            func() time.Time
}

// Pipeline walks the fallback chain primary → secondary → synthetic and
// owns the current snapshot. Callers never observe an error: the synthetic
// tier always yields data.
type Pipeline struct {
	primary        ThreatFetcher
	secondary      ThreatFetcher
	generator      ThreatGenerator
	syntheticCount int
	logger         *slog.Logger
	now            func() time.Time
	tracer         trace.Tracer

	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	state   State
	subs    map[int]chan *Snapshot
	nextSub int
}

// NewPipeline creates a pipeline. Pass a nil Logger to disable logging.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	gen := cfg.Generator
	if gen == nil {
		gen = NewGenerator()
	}
	count := cfg.SyntheticCount
	if count <= 0 {
		count = DefaultSyntheticCount
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		primary:        cfg.Primary,
		secondary:      cfg.Secondary,
		generator:      gen,
		syntheticCount: count,
		logger:         logger,
		now:            now,
		tracer:         otel.Tracer("threatmap/internal/threat"),
		subs:           make(map[int]chan *Snapshot),
	}
}

// Refresh runs one cycle and publishes its snapshot.
func (p *Pipeline) Refresh(ctx context.Context) *Snapshot {
	s := p.Acquire(ctx)
	p.Publish(s)
	return s
}

// Acquire runs the fallback chain and returns the resulting snapshot
// without publishing it.
func (p *Pipeline) Acquire(ctx context.Context) *Snapshot {
	ctx, span := p.tracer.Start(ctx, "pipeline.acquire")
	defer span.End()

	acquiredAt := p.now().UTC()
	norm := NewNormalizer(acquiredAt)
	var attempts []TierAttempt

	tier := common.TierPrimary
	for {
		p.setState(State{Phase: PhaseFetching, Tier: tier})
		start := time.Now()
		records, dropped, err := p.attempt(ctx, tier, norm)
		elapsed := time.Since(start)
		metrics.TierFetchDuration.WithLabelValues(string(tier)).Observe(elapsed.Seconds())

		att := TierAttempt{Tier: tier, Records: len(records), Dropped: dropped, Duration: elapsed}
		if err == nil {
			attempts = append(attempts, att)
			// Succeeded is reported once the snapshot is published.
			p.setState(p.publishedState())
			span.SetAttributes(
				attribute.String("threatmap.origin", string(tier)),
				attribute.Int("threatmap.records", len(records)),
			)
			return newSnapshot(tier, acquiredAt, records, attempts)
		}

		att.Error = err.Error()
		attempts = append(attempts, att)
		reason := failureReason(err)
		metrics.TierFailures.WithLabelValues(string(tier), reason).Inc()

		next, ok := tier.Next()
		if !ok {
			panic(fmt.Sprintf("threat: terminal tier %s failed: %v", tier, err))
		}
		p.logger.Warn("tier failed, falling back",
			"tier", tier, "next", next, "reason", reason, "err", err)
		tier = next
	}
}

func (p *Pipeline) attempt(ctx context.Context, tier common.Tier, norm *Normalizer) ([]ThreatRecord, int, error) {
	ctx, span := p.tracer.Start(ctx, "tier."+string(tier))
	defer span.End()

	if tier == common.TierSynthetic {
		return p.synthesize(norm.acquiredAt), 0, nil
	}

	records, dropped, err := p.fetch(ctx, tier, norm)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, dropped, err
	}
	span.SetAttributes(attribute.Int("threatmap.records", len(records)), attribute.Int("threatmap.dropped", dropped))
	return records, dropped, nil
}

func (p *Pipeline) fetch(ctx context.Context, tier common.Tier, norm *Normalizer) ([]ThreatRecord, int, error) {
	var fetcher ThreatFetcher
	switch tier {
	case common.TierPrimary:
		fetcher = p.primary
	case common.TierSecondary:
		fetcher = p.secondary
	}
	if fetcher == nil {
		return nil, 0, fmt.Errorf("%s: %w", tier, errTierNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", tier, err)
	}

	raws, err := fetcher.Fetch(ctx)
	if err != nil {
		return nil, 0, err
	}
	records, dropped := norm.NormalizeAll(raws, tier)
	if dropped > 0 {
		p.logger.Info("dropped entries without valid coordinates", "tier", tier, "dropped", dropped)
	}
	if len(records) == 0 {
		return nil, dropped, fmt.Errorf("%s feed returned %d entries: %w", tier, len(raws), ErrNoUsableRecords)
	}
	return records, dropped, nil
}

// synthesize calls the generator and enforces its contract. A violation is
// a programming error and panics.
func (p *Pipeline) synthesize(acquiredAt time.Time) []ThreatRecord {
	var records []ThreatRecord
	if g, ok := p.generator.(timedGenerator); ok {
		records = g.GenerateAt(p.syntheticCount, acquiredAt)
	} else {
		records = p.generator.Generate(p.syntheticCount)
	}
	if len(records) != p.syntheticCount {
		panic(fmt.Sprintf("threat: synthetic generator returned %d records, want %d", len(records), p.syntheticCount))
	}
	for _, r := range records {
		if !validLatitude(&r.Latitude) || !validLongitude(&r.Longitude) {
			panic(fmt.Sprintf("threat: synthetic record %s has invalid coordinates %f,%f", r.ID, r.Latitude, r.Longitude))
		}
	}
	return records
}

// Publish atomically replaces the current snapshot and notifies
// subscribers. The previous snapshot stays valid for readers holding it.
func (p *Pipeline) Publish(s *Snapshot) {
	if s == nil {
		return
	}
	p.current.Store(s)

	metrics.RefreshCycles.WithLabelValues(string(s.Origin())).Inc()
	metrics.SnapshotRecords.Set(float64(s.Len()))
	if s.Degraded() {
		metrics.SnapshotDegraded.Set(1)
	} else {
		metrics.SnapshotDegraded.Set(0)
	}
	p.logger.Info("snapshot published",
		"cycle", s.CycleID(), "origin", s.Origin(), "records", s.Len(), "degraded", s.Degraded())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{Phase: PhaseSucceeded, Tier: s.Origin()}
	for _, ch := range p.subs {
		// Latest wins: replace an unread snapshot rather than block.
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Current returns the published snapshot, if any.
func (p *Pipeline) Current() (*Snapshot, bool) {
	s := p.current.Load()
	return s, s != nil
}

// publishedState is the state matching the published snapshot.
func (p *Pipeline) publishedState() State {
	if s, ok := p.Current(); ok {
		return State{Phase: PhaseSucceeded, Tier: s.Origin()}
	}
	return State{Phase: PhaseIdle}
}

// State returns the state machine's current state. Succeeded always names
// the origin of the published snapshot; a cycle that is acquired but never
// published leaves no trace here.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Subscribe returns a channel that receives every published snapshot. Slow
// readers only see the latest one. Call cancel to unsubscribe.
func (p *Pipeline) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
