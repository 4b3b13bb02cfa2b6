package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/differential-privacy/go/v2/dpagg"

	"github.com/glo-fi/Streamtap/tap"
	"github.com/glo-fi/Streamtap/types"
)

func newCount() (*dpagg.Count, error) {
	return dpagg.NewCount(&dpagg.CountOptions{
		Epsilon:                  100,
		MaxPartitionsContributed: 1,
	})
}

func newBoundedMean(upper float64) (*dpagg.BoundedMean, error) {
	return dpagg.NewBoundedMean(&dpagg.BoundedMeanOptions{
		Epsilon:                      100,
		MaxPartitionsContributed:     1,
		MaxContributionsPerPartition: 1,
		Lower:                        -1,
		Upper:                        upper,
	})
}

// NoisedSummary aggregates one stream's per-packet metrics behind the
// Laplace mechanism, so a summary can be shared without exposing exact
// per-stream byte counts. Same caveats as any local DP aggregate: repeated
// packets of the same stream weaken the guarantee.
type NoisedSummary struct {
	packets  *dpagg.Count
	inFlight *dpagg.BoundedMean
	deltaMs  *dpagg.BoundedMean
}

func newNoisedSummary() (*NoisedSummary, error) {
	packets, err := newCount()
	if err != nil {
		return nil, fmt.Errorf("count aggregator: %w", err)
	}
	inFlight, err := newBoundedMean(1 << 20)
	if err != nil {
		return nil, fmt.Errorf("in-flight aggregator: %w", err)
	}
	deltaMs, err := newBoundedMean(10_000)
	if err != nil {
		return nil, fmt.Errorf("delta aggregator: %w", err)
	}
	return &NoisedSummary{packets: packets, inFlight: inFlight, deltaMs: deltaMs}, nil
}

func (s *NoisedSummary) observe(m *tap.PacketMetrics) {
	s.packets.Increment()
	s.inFlight.Add(float64(m.BytesInFlight))
	if m.HasInterPacketDelta {
		s.deltaMs.Add(float64(m.InterPacketDelta.Milliseconds()))
	}
}

// SummarySet keeps one noised summary per stream.
type SummarySet struct {
	streams map[string]*NoisedSummary
}

func NewSummarySet() *SummarySet {
	return &SummarySet{streams: make(map[string]*NoisedSummary)}
}

func (ss *SummarySet) Observe(rec *types.SegmentRecord, m *tap.PacketMetrics) error {
	s, ok := ss.streams[rec.StreamID]
	if !ok {
		var err error
		s, err = newNoisedSummary()
		if err != nil {
			return err
		}
		ss.streams[rec.StreamID] = s
	}
	s.observe(m)
	return nil
}

// Export writes one noised CSV line per stream, in stable stream order. The
// aggregators are consumed by this call; export once, at end of capture.
func (ss *SummarySet) Export(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s,%s,%s,%s\n",
		"Stream", "Noised Packets", "Noised Mean In Flight", "Noised Mean Delta (ms)"); err != nil {
		return err
	}

	ids := make([]string, 0, len(ss.streams))
	for id := range ss.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := ss.streams[id]
		packets, err := s.packets.Result()
		if err != nil {
			return fmt.Errorf("stream %s count result: %w", id, err)
		}
		inFlight, err := s.inFlight.Result()
		if err != nil {
			return fmt.Errorf("stream %s in-flight result: %w", id, err)
		}
		deltaMs, err := s.deltaMs.Result()
		if err != nil {
			return fmt.Errorf("stream %s delta result: %w", id, err)
		}
		if _, err := fmt.Fprintf(w, "%s,%d,%f,%f\n", id, packets, inFlight, deltaMs); err != nil {
			return err
		}
	}
	return nil
}
