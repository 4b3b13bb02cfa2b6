package types

import (
	"fmt"
)

// Direction identifies which endpoint of a stream sent a packet, relative
// to the client/server roles fixed on the stream's first sighting.
type Direction int8

const (
	DirectionClient  Direction = 0
	DirectionServer  Direction = 1
	DirectionUnknown Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionClient:
		return "client"
	case DirectionServer:
		return "server"
	case DirectionUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("direction(%d)", int8(d))
	}
}
