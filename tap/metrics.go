package tap

import (
	"time"
)

// PacketMetrics is the derived record for one packet. It is written once
// into the session's result cache and never changes afterwards.
//
// BytesInFlight, MaxSendable and BytesSincePush are always present and are
// attributed to the inferred sender of the stream, not to the packet's own
// direction. The remaining fields carry an explicit presence flag; an
// absent field means the upstream record lacked the input (no acked-frame
// reference) or this is the first packet seen from the endpoint. Absent is
// distinct from zero and must not be rendered as one.
//
// Negative values are valid outputs: duplicate ACKs make AckSize negative,
// reordering makes IPIDIncrement negative. They are signals, not errors.
type PacketMetrics struct {
	BytesInFlight  int64
	MaxSendable    int64
	BytesSincePush int64

	InterPacketDelta    time.Duration // same-endpoint delta, not consecutive-packet
	HasInterPacketDelta bool

	AckSize    int64
	HasAckSize bool

	IPIDIncrement    int64
	HasIPIDIncrement bool

	PacketsBeforeAck    int64
	HasPacketsBeforeAck bool
}

// PossiblyOutOfOrder reports the advisory condition on the IP ID increment:
// a step larger than one or a negative step suggests reordering or
// segmentation offload. Always false while the increment is absent.
func (m *PacketMetrics) PossiblyOutOfOrder() bool {
	return m.HasIPIDIncrement && (m.IPIDIncrement > 1 || m.IPIDIncrement < 0)
}
