package types

import (
	"fmt"
	"time"
)

// SegmentRecord is one already-dissected TCP segment, in capture order.
// The producer (packet.Parser or any external dissector) fills every field;
// AckedIndex is the only optional one and is valid only when HasAckedIndex
// is set.
type SegmentRecord struct {
	StreamID  string        // Stable per-connection key
	Index     int64         // Monotonically increasing capture index
	Timestamp time.Duration // Relative to capture start

	SrcPort uint16
	DstPort uint16

	Seq    int64 // Sequence number
	Ack    int64 // Acknowledgment number
	Len    int64 // Payload bytes carried by this segment
	Window int64 // Advertised receive window
	Push   bool  // PSH flag
	IPID   int64 // IP identification field (0 for IPv6)

	AckedIndex    int64 // Capture index of the segment this ACK refers to
	HasAckedIndex bool
}

// LastSeq is the sequence number of the last byte covered by this segment.
func (r *SegmentRecord) LastSeq() int64 {
	return r.Seq + r.Len - 1
}

type StreamKey struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

// Canonical returns the same key for both directions of a connection.
func (sk StreamKey) Canonical() StreamKey {
	if sk.SrcIP > sk.DstIP || (sk.SrcIP == sk.DstIP && sk.SrcPort > sk.DstPort) {
		return StreamKey{
			SrcIP:   sk.DstIP,
			DstIP:   sk.SrcIP,
			SrcPort: sk.DstPort,
			DstPort: sk.SrcPort,
		}
	}
	return sk
}

func (sk StreamKey) String() string {
	return fmt.Sprintf("%s:%d<->%s:%d", sk.SrcIP, sk.SrcPort, sk.DstIP, sk.DstPort)
}
