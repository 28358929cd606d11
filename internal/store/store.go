// Package store holds the latest Sample, a bounded rolling history, and
// fans the stream out to subscribers without letting a slow subscriber
// block ingestion. See spec.md §4.2.
package store

import (
	"sync"
	"sync/atomic"

	"pumpguard/internal/sample"
	"pumpguard/internal/telemetry/metrics"
)

// DefaultHistoryCapacity is N in spec.md §3 (RollingHistory).
const DefaultHistoryCapacity = 60

// DefaultSubscriberBuffer bounds each subscriber's private delivery queue.
const DefaultSubscriberBuffer = 32

// Handle is returned by Subscribe; Close unregisters the subscriber.
type Handle struct {
	id     uint64
	ch     chan sample.Sample
	drops  *atomic.Int64
	store  *Store
}

// C returns the channel samples are delivered on, in ingest order.
func (h *Handle) C() <-chan sample.Sample { return h.ch }

// Drops returns the number of samples dropped for this subscriber due to a
// full delivery queue.
func (h *Handle) Drops() int64 { return h.drops.Load() }

// Close unregisters the subscriber. Its channel is left open (see
// unsubscribe).
func (h *Handle) Close() { h.store.unsubscribe(h.id) }

type subscriber struct {
	ch    chan sample.Sample
	drops *atomic.Int64
}

// Store is the single owner of the latest Sample and the rolling history.
// All exported methods are safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	latest      *sample.Sample
	history     []sample.Sample
	capacity    int
	subscribers map[uint64]*subscriber
	nextID      uint64
	bufferSize  int

	ingestCounter     metrics.Counter
	subscriberDropped metrics.Counter
	subscriberGauge   metrics.Gauge
}

// New creates a Store with the given rolling-history capacity (<=0 uses
// DefaultHistoryCapacity) and per-subscriber buffer size (<=0 uses
// DefaultSubscriberBuffer).
func New(historyCapacity, subscriberBuffer int) *Store {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	noop := metrics.NewNoopProvider()
	return &Store{
		capacity:          historyCapacity,
		subscribers:       make(map[uint64]*subscriber),
		bufferSize:        subscriberBuffer,
		ingestCounter:     noop.NewCounter(metrics.CounterOpts{}),
		subscriberDropped: noop.NewCounter(metrics.CounterOpts{}),
		subscriberGauge:   noop.NewGauge(metrics.GaugeOpts{}),
	}
}

// WithMetrics attaches a metrics.Provider that tracks sample ingestion
// counts, per-subscriber drop counts, and the live subscriber gauge. It
// replaces the no-op instruments New installs by default and returns s for
// chaining at construction time.
func (s *Store) WithMetrics(p metrics.Provider) *Store {
	s.ingestCounter = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pumpguard", Subsystem: "store", Name: "samples_ingested_total", Help: "Count of samples ingested into the rolling store.",
	}})
	s.subscriberDropped = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pumpguard", Subsystem: "store", Name: "subscriber_drops_total", Help: "Count of samples dropped for a saturated subscriber queue.",
	}})
	s.subscriberGauge = p.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pumpguard", Subsystem: "store", Name: "subscribers", Help: "Number of currently registered stream subscribers.",
	}})
	return s
}

// Ingest atomically replaces the latest Sample, appends to the rolling
// history (evicting the oldest if full), then delivers s to every currently
// registered subscriber. The lock is held only for the latest+history
// mutation; delivery happens after release, so no subscriber send — and no
// network I/O — ever occurs under the lock (spec.md §5).
func (s *Store) Ingest(smp sample.Sample) {
	s.ingestCounter.Inc(1)

	s.mu.Lock()
	cp := smp
	s.latest = &cp
	s.history = append(s.history, smp)
	if len(s.history) > s.capacity {
		s.history = s.history[len(s.history)-s.capacity:]
	}
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- smp:
		default:
			// Drop the oldest queued sample for this subscriber only, then
			// retry once; never block ingest on a slow subscriber.
			select {
			case <-sub.ch:
				sub.drops.Add(1)
				s.subscriberDropped.Inc(1)
			default:
			}
			select {
			case sub.ch <- smp:
			default:
				sub.drops.Add(1)
				s.subscriberDropped.Inc(1)
			}
		}
	}
}

// Latest returns the most recent Sample, or nil if nothing has been ingested.
func (s *Store) Latest() *sample.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	return &cp
}

// History returns a stable snapshot (copy) of the current rolling window,
// oldest first, newest last.
func (s *Store) History() []sample.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sample.Sample, len(s.history))
	copy(out, s.history)
	return out
}

// Subscribe registers a new subscriber and returns a Handle delivering
// Samples in ingest order.
func (s *Store) Subscribe() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	sub := &subscriber{ch: make(chan sample.Sample, s.bufferSize), drops: &atomic.Int64{}}
	s.subscribers[id] = sub
	s.subscriberGauge.Set(float64(len(s.subscribers)))
	return &Handle{id: id, ch: sub.ch, drops: sub.drops, store: s}
}

// unsubscribe removes id from the subscriber map. It deliberately never
// closes the subscriber's channel: Ingest snapshots subscriber pointers
// under the lock and sends to them after releasing it, so a close here could
// race a send already in flight on the very pointer this unsubscribe just
// removed from the map. The channel becomes unreferenced once the handle and
// any in-flight snapshot are gone, and is collected normally.
func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		s.subscriberGauge.Set(float64(len(s.subscribers)))
	}
}

// SubscriberCount reports the number of currently registered subscribers
// (observability helper).
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
