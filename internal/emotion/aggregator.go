package emotion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

const shardCount = 64

type activationKey struct {
	userID  string
	emotion domain.EmotionType
}

type shard struct {
	mu      sync.Mutex
	records map[activationKey]time.Time
}

// Aggregator owns every emotion activation. Records are striped over shards by
// (user, type) so unrelated activations never contend on the same lock.
type Aggregator struct {
	types     []domain.EmotionType
	window    time.Duration
	publisher domain.EventPublisher

	shards [shardCount]shard
	counts map[domain.EmotionType]*atomic.Int64

	// emitMu orders emitted aggregates; versions only grow.
	emitMu  sync.Mutex
	version uint64
}

func NewAggregator(types []domain.EmotionType, window time.Duration, publisher domain.EventPublisher) *Aggregator {
	a := &Aggregator{
		types:     append([]domain.EmotionType(nil), types...),
		window:    window,
		publisher: publisher,
		counts:    make(map[domain.EmotionType]*atomic.Int64, len(types)),
	}
	for _, t := range types {
		a.counts[t] = &atomic.Int64{}
	}
	for i := range a.shards {
		a.shards[i].records = make(map[activationKey]time.Time)
	}
	return a
}

func (a *Aggregator) Types() []domain.EmotionType {
	return append([]domain.EmotionType(nil), a.types...)
}

func (a *Aggregator) Window() time.Duration { return a.window }

// Activate upserts the (user, type) record and emits an emotion.delta.
func (a *Aggregator) Activate(userID string, emotion domain.EmotionType, now time.Time) (domain.EmotionAggregate, error) {
	counter, ok := a.counts[emotion]
	if !ok {
		return domain.EmotionAggregate{}, domain.ErrUnknownEmotion
	}
	if userID == "" {
		return domain.EmotionAggregate{}, domain.ErrMissingUserID
	}

	key := activationKey{userID: userID, emotion: emotion}
	s := a.shardFor(key)
	s.mu.Lock()
	if _, exists := s.records[key]; !exists {
		counter.Add(1)
	}
	s.records[key] = now
	s.mu.Unlock()

	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	agg := a.current()
	a.version++
	a.publish(domain.EventEmotionDelta, domain.EmotionDelta{Type: emotion, Delta: 1, Aggregate: agg}, now)
	return agg, nil
}

// Sweep deletes records idle longer than the decay window, one shard at a time.
// It emits an emotion.aggregate only when something was removed.
func (a *Aggregator) Sweep(now time.Time) int {
	removed := 0
	for i := range a.shards {
		removed += a.sweepShard(&a.shards[i], now)
	}
	if removed == 0 {
		return 0
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	a.version++
	a.publish(domain.EventEmotionAggregate, a.current(), now)
	return removed
}

func (a *Aggregator) sweepShard(s *shard, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, last := range s.records {
		if now.Sub(last) > a.window {
			delete(s.records, key)
			a.counts[key.emotion].Add(-1)
			removed++
		}
	}
	return removed
}

// Aggregate is a read-only snapshot. Records past the window that are still
// waiting for a sweep are not counted.
func (a *Aggregator) Aggregate(now time.Time) domain.EmotionAggregate {
	counts := make(map[domain.EmotionType]int, len(a.types))
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for key, last := range s.records {
			if now.Sub(last) <= a.window {
				counts[key.emotion]++
			}
		}
		s.mu.Unlock()
	}
	return a.build(counts)
}

// Forget drops every activation of userID.
func (a *Aggregator) Forget(userID string, now time.Time) int {
	removed := 0
	for _, t := range a.types {
		key := activationKey{userID: userID, emotion: t}
		s := a.shardFor(key)
		s.mu.Lock()
		if _, ok := s.records[key]; ok {
			delete(s.records, key)
			a.counts[t].Add(-1)
			removed++
		}
		s.mu.Unlock()
	}
	if removed == 0 {
		return 0
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	a.version++
	a.publish(domain.EventEmotionAggregate, a.current(), now)
	return removed
}

// ActiveRecords is the number of stored activations, swept or not.
func (a *Aggregator) ActiveRecords() int {
	total := 0
	for _, c := range a.counts {
		total += int(c.Load())
	}
	return total
}

func (a *Aggregator) current() domain.EmotionAggregate {
	counts := make(map[domain.EmotionType]int, len(a.types))
	for t, c := range a.counts {
		counts[t] = int(c.Load())
	}
	return a.build(counts)
}

func (a *Aggregator) build(counts map[domain.EmotionType]int) domain.EmotionAggregate {
	agg := domain.EmotionAggregate{
		Counts:      make(map[domain.EmotionType]int, len(a.types)),
		Percentages: make(map[domain.EmotionType]float64, len(a.types)),
	}
	for _, t := range a.types {
		agg.Counts[t] = counts[t]
		agg.Total += counts[t]
	}
	for _, t := range a.types {
		if agg.Total > 0 {
			agg.Percentages[t] = float64(agg.Counts[t]) / float64(agg.Total)
		} else {
			agg.Percentages[t] = 0
		}
	}
	return agg
}

func (a *Aggregator) publish(kind domain.EventKind, payload any, now time.Time) {
	if a.publisher == nil {
		return
	}
	a.publisher.Publish(domain.Event{
		Kind:       kind,
		EntityID:   "emotions",
		Version:    a.version,
		Payload:    payload,
		ServerTime: now,
	})
}

func (a *Aggregator) shardFor(key activationKey) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(key.userID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(key.emotion))
	return &a.shards[h.Sum64()%shardCount]
}
