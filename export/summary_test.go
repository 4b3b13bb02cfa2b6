package export

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glo-fi/Streamtap/tap"
	"github.com/glo-fi/Streamtap/types"
)

func summaryRec(stream string, index int64) *types.SegmentRecord {
	return &types.SegmentRecord{StreamID: stream, Index: index}
}

func TestSummarySetObservePerStream(t *testing.T) {
	ss := NewSummarySet()
	m := &tap.PacketMetrics{BytesInFlight: 1200}

	require.NoError(t, ss.Observe(summaryRec("beta", 0), m))
	require.NoError(t, ss.Observe(summaryRec("beta", 1), m))
	require.NoError(t, ss.Observe(summaryRec("alpha", 2), m))

	// One aggregate per stream, however many packets it contributed.
	assert.Len(t, ss.streams, 2)
	assert.Contains(t, ss.streams, "alpha")
	assert.Contains(t, ss.streams, "beta")
}

func TestSummarySetExport(t *testing.T) {
	ss := NewSummarySet()
	firstPacket := &tap.PacketMetrics{BytesInFlight: 101}
	withDelta := &tap.PacketMetrics{
		BytesInFlight:       1500,
		InterPacketDelta:    12 * time.Millisecond,
		HasInterPacketDelta: true,
	}

	require.NoError(t, ss.Observe(summaryRec("10.0.0.3:40000<->10.0.0.4:80", 0), firstPacket))
	require.NoError(t, ss.Observe(summaryRec("10.0.0.1:40000<->10.0.0.2:80", 1), firstPacket))
	require.NoError(t, ss.Observe(summaryRec("10.0.0.1:40000<->10.0.0.2:80", 2), withDelta))

	var buf bytes.Buffer
	require.NoError(t, ss.Export(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Stream,Noised Packets,Noised Mean In Flight,Noised Mean Delta (ms)", lines[0])

	// One row per stream, sorted by stream id.
	assert.True(t, strings.HasPrefix(lines[1], "10.0.0.1:40000<->10.0.0.2:80,"))
	assert.True(t, strings.HasPrefix(lines[2], "10.0.0.3:40000<->10.0.0.4:80,"))

	// The noised values are not exact, but every field must parse and be
	// finite, including the delta mean of a stream that never had a delta.
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4)
		_, err := strconv.ParseInt(fields[1], 10, 64)
		assert.NoError(t, err)
		for _, f := range fields[2:] {
			v, err := strconv.ParseFloat(f, 64)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(v))
			assert.False(t, math.IsInf(v, 0))
		}
	}
}
