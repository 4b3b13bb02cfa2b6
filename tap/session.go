package tap

import (
	"sync/atomic"

	"github.com/glo-fi/Streamtap/types"
)

// Session owns the stream state store and the result cache for one capture.
// It is single-owner: feed packets from one goroutine, in ascending capture
// index. The lifecycle is NewSession -> Metrics* -> Reset (or drop).
//
// The counters exposed by Stats are atomic so a metrics scraper may read
// them concurrently; everything else is unsynchronized on purpose.
type Session struct {
	store  *stateStore
	engine engine
	cache  map[int64]*PacketMetrics

	packets    atomic.Int64
	streams    atomic.Int64
	cacheHits  atomic.Int64
	advisories atomic.Int64
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithRoleStrategy replaces the default first-seen-is-client heuristic.
func WithRoleStrategy(roles RoleStrategy) Option {
	return func(s *Session) {
		s.store.roles = roles
	}
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		store: newStateStore(FirstSeenClient),
		cache: make(map[int64]*PacketMetrics),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the derived metrics for a packet, computing them exactly
// once. A repeat call with the same capture index returns the cached record
// without touching stream state, so re-rendering the same packet is
// idempotent.
func (s *Session) Metrics(rec *types.SegmentRecord) *PacketMetrics {
	if m, ok := s.cache[rec.Index]; ok {
		s.cacheHits.Add(1)
		return m
	}

	st, created := s.store.getOrInit(rec.StreamID, rec.SrcPort, rec.DstPort)
	if created {
		s.streams.Add(1)
	}

	m := s.engine.process(rec, st)
	s.cache[rec.Index] = &m

	s.packets.Add(1)
	if m.PossiblyOutOfOrder() {
		s.advisories.Add(1)
	}
	return &m
}

// Reset clears all stream state and all cached metrics as one unit. Call it
// between captures, never mid-stream: a partial reset would corrupt the
// per-direction deltas of packets still to come.
func (s *Session) Reset() {
	s.store.reset()
	s.cache = make(map[int64]*PacketMetrics)
	s.packets.Store(0)
	s.streams.Store(0)
	s.cacheHits.Store(0)
	s.advisories.Store(0)
}

// Stats is a point-in-time snapshot of the session counters.
type Stats struct {
	Packets    int64 // Distinct packets processed
	Streams    int64 // Streams currently tracked
	CacheHits  int64 // Lookups served from the result cache
	Advisories int64 // Packets flagged possibly out of order
}

func (s *Session) Stats() Stats {
	return Stats{
		Packets:    s.packets.Load(),
		Streams:    s.streams.Load(),
		CacheHits:  s.cacheHits.Load(),
		Advisories: s.advisories.Load(),
	}
}
