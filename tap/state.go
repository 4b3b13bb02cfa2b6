package tap

import (
	"time"

	"github.com/glo-fi/Streamtap/types"
)

// endpointState holds the running values for one direction of a stream.
// Every "last*" field reflects only packets already processed for that
// direction; the has* flags replace the sentinel-zero convention so a
// genuine zero value is never mistaken for "unseen".
type endpointState struct {
	lastTime    time.Duration
	hasLastTime bool

	window          int64
	bytesSincePush  int64
	pushBoundarySeq int64

	lastAck    int64
	hasLastAck bool

	lastSeqHigh int64

	lastIPID    int64
	hasLastIPID bool
}

// StreamState is the per-stream record owned by the engine. The client and
// server roles are fixed when the stream is first seen and never change.
type StreamState struct {
	clientPort uint16
	serverPort uint16

	client endpointState
	server endpointState
}

func (s *StreamState) endpoint(d types.Direction) *endpointState {
	if d == types.DirectionServer {
		return &s.server
	}
	return &s.client
}

// direction resolves which endpoint sent a packet with the given source
// port. A port matching neither role yields DirectionUnknown; the caller
// skips the directional update in that case.
func (s *StreamState) direction(srcPort uint16) types.Direction {
	switch srcPort {
	case s.clientPort:
		return types.DirectionClient
	case s.serverPort:
		return types.DirectionServer
	default:
		return types.DirectionUnknown
	}
}

// RoleStrategy decides which endpoint of a newly seen stream is the client.
// It receives the source and destination ports of the stream's first packet.
type RoleStrategy func(srcPort, dstPort uint16) (clientPort, serverPort uint16)

// FirstSeenClient assumes the first packet of a stream originates from the
// client. This is a heuristic: a capture that starts mid-stream may fix the
// roles backwards, which flips attribution but not the arithmetic.
func FirstSeenClient(srcPort, dstPort uint16) (uint16, uint16) {
	return srcPort, dstPort
}

// LowPortServer treats the numerically lower port as the server, the usual
// well-known-port convention. Ties fall back to FirstSeenClient.
func LowPortServer(srcPort, dstPort uint16) (uint16, uint16) {
	if srcPort < dstPort {
		return dstPort, srcPort
	}
	return srcPort, dstPort
}

// stateStore maps stream ids to their running state. Entries live until the
// whole store is reset; there is no per-entry deletion.
type stateStore struct {
	streams map[string]*StreamState
	roles   RoleStrategy
}

func newStateStore(roles RoleStrategy) *stateStore {
	return &stateStore{
		streams: make(map[string]*StreamState),
		roles:   roles,
	}
}

// getOrInit returns the state for a stream, creating it on first sighting.
// The boolean reports whether a new entry was created.
func (st *stateStore) getOrInit(id string, srcPort, dstPort uint16) (*StreamState, bool) {
	if s, ok := st.streams[id]; ok {
		return s, false
	}
	clientPort, serverPort := st.roles(srcPort, dstPort)
	s := &StreamState{
		clientPort: clientPort,
		serverPort: serverPort,
	}
	st.streams[id] = s
	return s, true
}

func (st *stateStore) reset() {
	st.streams = make(map[string]*StreamState)
}
