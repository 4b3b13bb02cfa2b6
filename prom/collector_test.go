package prom

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glo-fi/Streamtap/tap"
	"github.com/glo-fi/Streamtap/types"
)

func TestSessionCollector(t *testing.T) {
	session := tap.NewSession()
	rec := &types.SegmentRecord{
		StreamID: "10.0.0.1:40000<->10.0.0.2:80",
		Index:    0,
		SrcPort:  40000,
		DstPort:  80,
		Len:      100,
		Seq:      1,
	}
	session.Metrics(rec)
	session.Metrics(rec) // cache hit

	collector := NewSessionCollector(session)

	expected := `
# HELP streamtap_cache_hits_total Metric lookups served from the result cache
# TYPE streamtap_cache_hits_total counter
streamtap_cache_hits_total 1
# HELP streamtap_packets_total Distinct packets processed by the tap engine
# TYPE streamtap_packets_total counter
streamtap_packets_total 1
# HELP streamtap_streams TCP streams currently tracked
# TYPE streamtap_streams gauge
streamtap_streams 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"streamtap_packets_total", "streamtap_streams", "streamtap_cache_hits_total")
	require.NoError(t, err)

	assert.Equal(t, 4, testutil.CollectAndCount(collector))
}
