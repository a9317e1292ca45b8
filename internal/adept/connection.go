package adept

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"mlat-uplink/internal/mlat"
	"mlat-uplink/internal/stats"
	"mlat-uplink/internal/version"
)

// State tracks the connection lifecycle. Closed is terminal.
type State int

const (
	StateInit State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// udpReportInterval paces the mlat_udp_report records sent while a UDP
// transport is active.
const udpReportInterval = 60 * time.Second

// ErrNotConnected is returned by send methods outside the Connected
// state.
var ErrNotConnected = errors.New("adept: connection is not connected")

// Connection binds the control-plane reader/writer and the optional
// binary UDP transport together. All methods must be called from the
// single reactor goroutine.
type Connection struct {
	out  io.Writer
	udp  UDPTransport
	ctrs *stats.Counters
	log  *logrus.Entry

	reader *Reader
	writer *Writer
	coord  Coordinator
	sender MessageSender

	state  State
	status string
	closed bool

	now           func() time.Time
	nextUDPReport time.Time
}

// NewConnection prepares a connection whose control plane writes to
// out. A nil udp transport routes data-plane messages through the text
// writer instead.
func NewConnection(out io.Writer, udp UDPTransport, ctrs *stats.Counters, log *logrus.Entry) *Connection {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Connection{
		out:  out,
		udp:  udp,
		ctrs: ctrs,
		log:  log,
		now:  time.Now,
	}
}

// Start wires the reader and writer, picks the data-plane transport,
// announces readiness, and notifies the coordinator.
func (c *Connection) Start(coord Coordinator) error {
	if c.state != StateInit {
		return fmt.Errorf("adept: connection already started (%s)", c.state)
	}

	c.coord = coord
	c.reader = newReader(c, coord, c.ctrs, c.log)
	c.writer = newWriter(c, c.out, c.ctrs)

	if c.udp != nil {
		c.sender = c.udp
	} else {
		c.sender = c.writer
	}

	c.state = StateConnected
	if err := c.writer.SendReady(version.Client); err != nil {
		return c.fatal(err)
	}
	c.nextUDPReport = c.now().Add(udpReportInterval)
	coord.ServerConnected()
	return nil
}

// OnBytes feeds control-plane input into the reader.
func (c *Connection) OnBytes(chunk []byte) {
	if c.reader != nil {
		c.reader.OnBytes(chunk)
	}
}

// Drain flushes buffered control-plane output. An I/O error on the
// pipe is stream-ending.
func (c *Connection) Drain() error {
	if c.writer == nil {
		return nil
	}
	if err := c.writer.Drain(); err != nil {
		return c.fatal(err)
	}
	return nil
}

// SendMlat routes one surveillance message to the active data-plane
// transport.
func (c *Connection) SendMlat(m mlat.Message) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.sender.SendMlat(m))
}

// SendSync routes one sync pair to the active data-plane transport.
func (c *Connection) SendSync(even, odd mlat.Message) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.sender.SendSync(even, odd))
}

func (c *Connection) SendSeen(addrs []uint32) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.writer.SendSeen(addrs))
}

func (c *Connection) SendLost(addrs []uint32) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.writer.SendLost(addrs))
}

func (c *Connection) SendRateReport(rates map[uint32]float64) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.writer.SendRateReport(rates))
}

func (c *Connection) SendClockReset() error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.writer.SendClockReset())
}

func (c *Connection) SendInputConnected() error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.writer.SendInputConnected())
}

func (c *Connection) SendInputDisconnected() error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.checkSend(c.writer.SendInputDisconnected())
}

// checkSend escalates a write-buffer overflow to a disconnect; other
// send errors (an invalid message from the feeder) are the caller's
// problem and leave the connection up.
func (c *Connection) checkSend(err error) error {
	if errors.Is(err, ErrWriteOverflow) {
		return c.fatal(err)
	}
	return err
}

// Heartbeat is invoked at a regular cadence by the reactor. It bounds
// the staleness of a partially filled datagram and paces the periodic
// UDP report.
func (c *Connection) Heartbeat(now time.Time) {
	if c.state != StateConnected || c.udp == nil {
		return
	}

	c.udp.Flush()

	if now.After(c.nextUDPReport) {
		c.nextUDPReport = now.Add(udpReportInterval)
		if err := c.writer.SendUDPReport(c.udp.Count()); err != nil {
			_ = c.fatal(err)
		}
	}
}

// Disconnect tears down the reader, writer, and UDP transport and
// notifies the coordinator. It is idempotent and safe against the
// re-entrant calls that closing the reader or writer triggers.
func (c *Connection) Disconnect() {
	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed

	if c.reader != nil {
		c.reader.Close()
	}
	if c.writer != nil {
		c.writer.Close()
	}
	if c.udp != nil {
		c.udp.Close()
	}
	if c.coord != nil {
		c.coord.ServerDisconnected()
	}
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	return c.state
}

// Status returns the human-readable sync status most recently reported
// by the server.
func (c *Connection) Status() string {
	return c.status
}

func (c *Connection) setStatus(status string) {
	c.status = status
}

func (c *Connection) fatal(err error) error {
	c.log.WithError(err).Error("closing server connection")
	c.Disconnect()
	return err
}
