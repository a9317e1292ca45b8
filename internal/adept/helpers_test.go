package adept

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"mlat-uplink/internal/mlat"
	"mlat-uplink/internal/stats"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeCoordinator struct {
	wanted       []map[uint32]struct{}
	unwanted     []map[uint32]struct{}
	results      []Result
	connected    int
	disconnected int
}

func (c *fakeCoordinator) ServerStartSending(w map[uint32]struct{}) {
	c.wanted = append(c.wanted, w)
}

func (c *fakeCoordinator) ServerStopSending(u map[uint32]struct{}) {
	c.unwanted = append(c.unwanted, u)
}

func (c *fakeCoordinator) ServerMlatResult(r Result) {
	c.results = append(c.results, r)
}

func (c *fakeCoordinator) ServerConnected() {
	c.connected++
}

func (c *fakeCoordinator) ServerDisconnected() {
	c.disconnected++
}

type fakeUDP struct {
	mlats     []mlat.Message
	syncs     [][2]mlat.Message
	flushes   int
	count     uint64
	closeHits int
}

func (f *fakeUDP) SendMlat(m mlat.Message) error {
	f.mlats = append(f.mlats, m)
	return nil
}

func (f *fakeUDP) SendSync(even, odd mlat.Message) error {
	f.syncs = append(f.syncs, [2]mlat.Message{even, odd})
	return nil
}

func (f *fakeUDP) Flush() {
	f.flushes++
}

func (f *fakeUDP) Count() uint64 {
	return f.count
}

func (f *fakeUDP) Close() {
	f.closeHits++
}

func startedConn(t *testing.T, out io.Writer, udp UDPTransport) (*Connection, *fakeCoordinator, *stats.Counters) {
	t.Helper()
	ctrs := &stats.Counters{}
	conn := NewConnection(out, udp, ctrs, testLog())
	coord := &fakeCoordinator{}
	if err := conn.Start(coord); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return conn, coord, ctrs
}

// drainTo empties the connection's write buffer and returns everything
// written since out was last reset.
func drainTo(t *testing.T, conn *Connection, out *bytes.Buffer) string {
	t.Helper()
	if err := conn.Drain(); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	return out.String()
}

func testShort(t *testing.T, addr uint32, ts uint64) mlat.Message {
	t.Helper()
	m, err := mlat.New(addr, ts, []byte{0x28, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	if err != nil {
		t.Fatalf("mlat.New() error: %v", err)
	}
	return m
}

func testLong(t *testing.T, addr uint32, ts uint64) mlat.Message {
	t.Helper()
	p := []byte{0x8D, 0x4D, 0x20, 0x23, 0x99, 0x10, 0x9C, 0xB0, 0x68, 0x04, 0x20, 0x2C, 0xC3, 0x71}
	m, err := mlat.New(addr, ts, p)
	if err != nil {
		t.Fatalf("mlat.New() error: %v", err)
	}
	return m
}
