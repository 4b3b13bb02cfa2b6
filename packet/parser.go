package packet

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/glo-fi/Streamtap/types"
)

// Parser turns raw captured packets into types.SegmentRecord values for the
// tap engine. It assigns the monotonically increasing capture index, anchors
// relative timestamps on the first packet, and resolves the optional
// acked-frame reference. One Parser per capture; not safe for concurrent
// use.
type Parser struct {
	index   int64
	started bool
	start   gopacket.CaptureInfo

	acks *ackResolver
	anon Anonymizer
}

// Anonymizer rewrites the endpoint addresses of a stream key before the key
// is canonicalized. The mapping must be deterministic so both directions of
// a connection keep resolving to the same stream id.
type Anonymizer interface {
	AnonymizeKey(key types.StreamKey) types.StreamKey
}

// Option configures a Parser at construction time.
type Option func(*Parser)

// WithAnonymizer sanitizes stream endpoint addresses before they become
// part of the stream id, so no raw IP reaches the export sinks.
func WithAnonymizer(a Anonymizer) Option {
	return func(p *Parser) {
		p.anon = a
	}
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{acks: newAckResolver()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse dissects one packet. Non-TCP input yields an error; the caller is
// expected to drop such packets rather than feed them to the engine.
func (p *Parser) Parse(raw gopacket.Packet) (*types.SegmentRecord, error) {
	meta := raw.Metadata()
	if !p.started {
		p.start = meta.CaptureInfo
		p.started = true
	}

	rec := &types.SegmentRecord{
		Index:     p.index,
		Timestamp: meta.Timestamp.Sub(p.start.Timestamp),
	}
	p.index++

	key, err := p.parseIPLayer(raw, rec)
	if err != nil {
		return nil, fmt.Errorf("IP layer parsing failed: %w", err)
	}
	if err := p.parseTCP(raw, rec, &key); err != nil {
		return nil, fmt.Errorf("TCP layer parsing failed: %w", err)
	}
	if p.anon != nil {
		key = p.anon.AnonymizeKey(key)
	}
	rec.StreamID = key.Canonical().String()

	p.acks.observe(rec)
	return rec, nil
}

func (p *Parser) parseIPLayer(raw gopacket.Packet, rec *types.SegmentRecord) (types.StreamKey, error) {
	if ipv4Layer := raw.Layer(layers.LayerTypeIPv4); ipv4Layer != nil {
		ipv4 := ipv4Layer.(*layers.IPv4)
		rec.IPID = int64(ipv4.Id)
		return types.StreamKey{
			SrcIP: ipv4.SrcIP.String(),
			DstIP: ipv4.DstIP.String(),
		}, nil
	}

	if ipv6Layer := raw.Layer(layers.LayerTypeIPv6); ipv6Layer != nil {
		ipv6 := ipv6Layer.(*layers.IPv6)
		// IPv6 has no identification field outside the fragment header;
		// the IP ID increment stays meaningless for these streams.
		rec.IPID = 0
		return types.StreamKey{
			SrcIP: ipv6.SrcIP.String(),
			DstIP: ipv6.DstIP.String(),
		}, nil
	}

	return types.StreamKey{}, fmt.Errorf("no supported IP layer found")
}

func (p *Parser) parseTCP(raw gopacket.Packet, rec *types.SegmentRecord, key *types.StreamKey) error {
	tcpLayer := raw.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return fmt.Errorf("no TCP layer found")
	}

	tcp := tcpLayer.(*layers.TCP)
	rec.SrcPort = uint16(tcp.SrcPort)
	rec.DstPort = uint16(tcp.DstPort)
	rec.Seq = int64(tcp.Seq)
	rec.Ack = int64(tcp.Ack)
	rec.Len = int64(len(tcp.Payload))
	rec.Window = int64(tcp.Window)
	rec.Push = tcp.PSH

	key.SrcPort = rec.SrcPort
	key.DstPort = rec.DstPort
	return nil
}

// Reset drops the capture index, timestamp anchor and all resolver state;
// pair it with the session reset between captures.
func (p *Parser) Reset() {
	p.index = 0
	p.started = false
	p.acks = newAckResolver()
}

// maxPendingAcks bounds the per-direction table of unacknowledged segments
// so a capture full of never-acked data cannot grow it without limit.
const maxPendingAcks = 4096

// ackResolver remembers, per stream and direction, the expected ACK value
// of each data segment (seq + len) and the capture index that sent it. When
// the opposite endpoint later ACKs exactly that value, the segment's index
// becomes the record's acked-frame reference. ACKs that match nothing
// (mid-segment ACKs, captures that missed the data) leave the reference
// absent.
type ackResolver struct {
	streams map[string]*ackTable
}

type ackTable struct {
	// Keyed by sending port, then by expected ACK value.
	pending map[uint16]map[int64]int64
}

func newAckResolver() *ackResolver {
	return &ackResolver{streams: make(map[string]*ackTable)}
}

func (r *ackResolver) observe(rec *types.SegmentRecord) {
	tbl, ok := r.streams[rec.StreamID]
	if !ok {
		tbl = &ackTable{pending: make(map[uint16]map[int64]int64)}
		r.streams[rec.StreamID] = tbl
	}

	// Resolve this packet's ACK against data previously sent by the peer.
	if peer, ok := tbl.pending[rec.DstPort]; ok {
		if idx, ok := peer[rec.Ack]; ok {
			rec.AckedIndex = idx
			rec.HasAckedIndex = true
			delete(peer, rec.Ack)
		}
	}

	// Register this packet's own data for a future ACK. A retransmission
	// overwrites the original index, so the reference points at the frame
	// actually on the wire last.
	if rec.Len > 0 {
		own, ok := tbl.pending[rec.SrcPort]
		if !ok {
			own = make(map[int64]int64)
			tbl.pending[rec.SrcPort] = own
		}
		if len(own) < maxPendingAcks {
			own[rec.Seq+rec.Len] = rec.Index
		}
	}
}
