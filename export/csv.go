package export

import (
	"fmt"
	"io"

	"github.com/glo-fi/Streamtap/tap"
	"github.com/glo-fi/Streamtap/types"
)

// CSVWriter emits one line per packet. Absent metric fields render as empty
// columns, never as zero.
type CSVWriter struct {
	w io.Writer
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

func (c *CSVWriter) WriteHeader() error {
	_, err := fmt.Fprintf(c.w, "%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
		"Index",
		"Stream",
		"Src Port",
		"Dst Port",
		"Bytes In Flight",
		"Max Sendable",
		"Bytes Since PUSH",
		"Inter Packet Delta (ns)",
		"ACK Size",
		"IP ID Increment",
		"Packets Before ACK",
		"Possibly Out Of Order")
	return err
}

func (c *CSVWriter) WriteRecord(rec *types.SegmentRecord, m *tap.PacketMetrics) error {
	delta := ""
	if m.HasInterPacketDelta {
		delta = fmt.Sprintf("%d", m.InterPacketDelta.Nanoseconds())
	}
	ackSize := ""
	if m.HasAckSize {
		ackSize = fmt.Sprintf("%d", m.AckSize)
	}
	ipidInc := ""
	if m.HasIPIDIncrement {
		ipidInc = fmt.Sprintf("%d", m.IPIDIncrement)
	}
	beforeAck := ""
	if m.HasPacketsBeforeAck {
		beforeAck = fmt.Sprintf("%d", m.PacketsBeforeAck)
	}
	outOfOrder := ""
	if m.PossiblyOutOfOrder() {
		outOfOrder = "1"
	}

	_, err := fmt.Fprintf(c.w, "%d,%s,%d,%d,%d,%d,%d,%s,%s,%s,%s,%s\n",
		rec.Index,
		rec.StreamID,
		rec.SrcPort,
		rec.DstPort,
		m.BytesInFlight,
		m.MaxSendable,
		m.BytesSincePush,
		delta,
		ackSize,
		ipidInc,
		beforeAck,
		outOfOrder)
	return err
}
