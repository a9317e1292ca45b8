// Package adept implements the client side of the adept uplink
// protocol: a tab-separated text control plane spoken over a pipe to
// the parent coordinator process, plus routing of decoded surveillance
// messages to either the text plane or a binary UDP transport.
package adept

import "mlat-uplink/internal/mlat"

// Result is a solved position/velocity delivered by the server. The
// pointer fields are not carried on this path and arrive nil.
type Result struct {
	Address uint32
	Lat     float64
	Lon     float64
	Alt     float64
	NSVel   float64
	EWVel   float64
	VRate   float64

	Timestamp *float64
	Callsign  *string
	Squawk    *string
	ErrorEst  *float64
	NStations *int
}

// Coordinator receives inbound protocol events. It is supplied by the
// owner at Start and must not retain the argument maps.
type Coordinator interface {
	// ServerStartSending announces the exact set of newly wanted
	// aircraft addresses.
	ServerStartSending(wanted map[uint32]struct{})
	// ServerStopSending announces addresses no longer wanted.
	ServerStopSending(unwanted map[uint32]struct{})
	// ServerMlatResult delivers one solved position.
	ServerMlatResult(r Result)
	ServerConnected()
	ServerDisconnected()
}

// MessageSender is the outbound data-plane transport. The text writer
// and the UDP batcher both implement it; the connection picks one at
// start.
type MessageSender interface {
	SendMlat(m mlat.Message) error
	SendSync(even, odd mlat.Message) error
}

// UDPTransport is the binary uplink as seen by the connection.
type UDPTransport interface {
	MessageSender
	Flush()
	Count() uint64
	Close()
}
