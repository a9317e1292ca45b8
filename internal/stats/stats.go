// Package stats carries the connection byte counters. A Counters value
// is injected into each transport so tests can assert on isolated
// counts; only the reactor goroutine mutates it.
package stats

type Counters struct {
	// ServerRxBytes counts bytes received on the control-plane input.
	ServerRxBytes uint64
	// ServerTxBytes counts bytes accepted by the control-plane output.
	ServerTxBytes uint64
	// ServerUDPBytes counts bytes handed to the UDP socket, whether or
	// not the datagram was actually delivered.
	ServerUDPBytes uint64
}
