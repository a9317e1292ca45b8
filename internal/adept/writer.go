package adept

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"mlat-uplink/internal/mlat"
	"mlat-uplink/internal/stats"
)

// maxWriteBuf bounds unsent control-plane output. Exceeding it means
// the parent process has stopped consuming; dropping records silently
// would corrupt its view, so the connection dies instead.
const maxWriteBuf = 65536

// ErrWriteOverflow is returned when the outbound buffer exceeds
// maxWriteBuf.
var ErrWriteOverflow = errors.New("adept: write buffer overflow, too much unsent data")

// Writer formats outbound records as tab-separated lines and buffers
// them until the control-plane output accepts them.
type Writer struct {
	conn *Connection
	out  io.Writer
	ctrs *stats.Counters

	buf    []byte
	closed bool
}

func newWriter(conn *Connection, out io.Writer, ctrs *stats.Counters) *Writer {
	return &Writer{conn: conn, out: out, ctrs: ctrs}
}

func (w *Writer) append(line []byte) error {
	w.buf = append(w.buf, line...)
	if len(w.buf) > maxWriteBuf {
		return ErrWriteOverflow
	}
	return nil
}

// sendLine joins key/value pairs with tabs and appends one record.
func (w *Writer) sendLine(pairs ...string) error {
	n := 1
	for _, p := range pairs {
		n += len(p) + 1
	}
	line := make([]byte, 0, n)
	for i, p := range pairs {
		if i > 0 {
			line = append(line, '\t')
		}
		line = append(line, p...)
	}
	line = append(line, '\n')
	return w.append(line)
}

// SendMlat and SendSync format their lines directly; they are on the
// hot path for text-only connections.

func (w *Writer) SendMlat(m mlat.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	var line string
	if m.DF() <= 15 {
		line = fmt.Sprintf("type\tmlat_mlat\thexid\t%06X\tm_short\t%012x %x\n",
			m.Address, m.Timestamp, m.Payload)
	} else {
		line = fmt.Sprintf("type\tmlat_mlat\thexid\t%06X\tm_long\t%012x %x\n",
			m.Address, m.Timestamp, m.Payload)
	}
	return w.append([]byte(line))
}

func (w *Writer) SendSync(even, odd mlat.Message) error {
	if err := even.Validate(); err != nil {
		return err
	}
	if err := odd.Validate(); err != nil {
		return err
	}

	line := fmt.Sprintf("type\tmlat_sync\thexid\t%06X\tm_sync\t%012x %x %012x %x\n",
		even.Address, even.Timestamp, even.Payload, odd.Timestamp, odd.Payload)
	return w.append([]byte(line))
}

func (w *Writer) SendSeen(addrs []uint32) error {
	return w.sendLine("type", "mlat_seen", "hexids", joinAddresses(addrs))
}

func (w *Writer) SendLost(addrs []uint32) error {
	return w.sendLine("type", "mlat_lost", "hexids", joinAddresses(addrs))
}

// SendRateReport emits per-aircraft message rates, ordered by address
// so the line is reproducible.
func (w *Writer) SendRateReport(rates map[uint32]float64) error {
	addrs := make([]uint32, 0, len(rates))
	for addr := range rates {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var b []byte
	for i, addr := range addrs {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, fmt.Sprintf("%06X %.2f", addr, rates[addr])...)
	}
	return w.sendLine("type", "mlat_rates", "rates", string(b))
}

func (w *Writer) SendReady(clientVersion string) error {
	return w.sendLine("type", "mlat_event", "event", "ready", "mlat_client_version", clientVersion)
}

func (w *Writer) SendInputConnected() error {
	return w.sendLine("type", "mlat_event", "event", "connected")
}

func (w *Writer) SendInputDisconnected() error {
	return w.sendLine("type", "mlat_event", "event", "disconnected")
}

func (w *Writer) SendClockReset() error {
	return w.sendLine("type", "mlat_event", "event", "clock_reset")
}

func (w *Writer) SendUDPReport(count uint64) error {
	return w.sendLine("type", "mlat_udp_report", "messages_sent", strconv.FormatUint(count, 10))
}

// Drain writes as much buffered output as the stream accepts and drops
// the accepted bytes from the front of the buffer.
func (w *Writer) Drain() error {
	if w.closed || len(w.buf) == 0 {
		return nil
	}

	n, err := w.out.Write(w.buf)
	if n > 0 {
		w.buf = w.buf[:copy(w.buf, w.buf[n:])]
		w.ctrs.ServerTxBytes += uint64(n)
	}
	if err != nil {
		return fmt.Errorf("control-plane write: %w", err)
	}
	return nil
}

// Pending returns the number of unsent buffered bytes.
func (w *Writer) Pending() int {
	return len(w.buf)
}

// Close is idempotent and tears down the whole connection.
func (w *Writer) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.conn.Disconnect()
}

func joinAddresses(addrs []uint32) string {
	var b []byte
	for i, addr := range addrs {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, fmt.Sprintf("%06X", addr)...)
	}
	return string(b)
}
