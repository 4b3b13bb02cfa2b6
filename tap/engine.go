package tap

import (
	"github.com/glo-fi/Streamtap/types"
)

// engine performs the per-packet directional update and metric derivation.
// It must see packets strictly in ascending capture order: the values it
// reads for packet N are the ones left behind by packet N-1 of the same
// direction. The session's result cache keeps process from running twice
// for the same packet.
type engine struct{}

// process consumes one segment record, updates the sending direction's
// running state and derives the metrics for this packet.
func (e *engine) process(rec *types.SegmentRecord, st *StreamState) PacketMetrics {
	var m PacketMetrics

	lastSeq := rec.LastSeq()
	dir := st.direction(rec.SrcPort)

	// The sender's bytes-since-push run including this segment. Recomputed
	// from sequence numbers rather than accumulated by length, so a
	// retransmission or reordered duplicate does not inflate it.
	var senderBSP int64

	if dir != types.DirectionUnknown {
		snd := st.endpoint(dir)

		if snd.hasLastTime {
			m.InterPacketDelta = rec.Timestamp - snd.lastTime
			m.HasInterPacketDelta = true
		}

		senderBSP = lastSeq - snd.pushBoundarySeq
		if rec.Push {
			// This packet still reports the full run; only future packets
			// start from the new boundary.
			snd.bytesSincePush = 0
			snd.pushBoundarySeq = lastSeq
		} else {
			snd.bytesSincePush = senderBSP
		}

		if snd.hasLastAck {
			m.AckSize = rec.Ack - snd.lastAck
			m.HasAckSize = true
		}

		if snd.hasLastIPID {
			m.IPIDIncrement = rec.IPID - snd.lastIPID
			m.HasIPIDIncrement = true
		}

		snd.lastTime = rec.Timestamp
		snd.hasLastTime = true
		snd.lastSeqHigh = lastSeq
		snd.lastAck = rec.Ack
		snd.hasLastAck = true
		snd.window = rec.Window
		snd.lastIPID = rec.IPID
		snd.hasLastIPID = true
	}

	// In-flight and headroom for both directions, from the now-updated
	// state. With an unknown direction this derives from whatever state
	// exists, which may be stale.
	bifClient := st.client.lastSeqHigh - st.server.lastAck + 1
	bifServer := st.server.lastSeqHigh - st.client.lastAck + 1
	headroomClient := st.server.window - bifClient
	headroomServer := st.client.window - bifServer

	bspClient := st.client.bytesSincePush
	bspServer := st.server.bytesSincePush
	switch dir {
	case types.DirectionClient:
		bspClient = senderBSP
	case types.DirectionServer:
		bspServer = senderBSP
	}

	// Sender inference. The >= tie-break attributes the flow to the server
	// (download direction) when both sides are level, e.g. at stream start.
	// The chosen triple is reported identically on data segments and on
	// pure ACKs of either direction.
	if bifServer >= bifClient {
		m.BytesInFlight = bifServer
		m.MaxSendable = headroomServer
		m.BytesSincePush = bspServer
	} else {
		m.BytesInFlight = bifClient
		m.MaxSendable = headroomClient
		m.BytesSincePush = bspClient
	}

	if rec.HasAckedIndex {
		// Counts every capture frame between the ACK and the frame it
		// acknowledges, not only frames of this stream. Known
		// approximation, kept deliberately.
		m.PacketsBeforeAck = rec.Index - rec.AckedIndex
		m.HasPacketsBeforeAck = true
	}

	return m
}
