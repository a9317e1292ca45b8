// Package wire implements the binary UDP uplink: surveillance and sync
// messages are delta-encoded against a per-datagram base timestamp and
// packed into MTU-sized datagrams.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"mlat-uplink/internal/mlat"
	"mlat-uplink/internal/stats"
)

// Submessage tags.
const (
	typeSync      = 1
	typeMlatShort = 2
	typeMlatLong  = 3
	typeRebase    = 5
	typeAbsSync   = 6
)

// Encoded sizes, tag byte included.
const (
	headerLen    = 14 // key u32 + seq u16 + base timestamp u64
	syncLen      = 1 + 3 + 4 + 4 + 14 + 14
	mlatShortLen = 1 + 3 + 4 + 7
	mlatLongLen  = 1 + 3 + 4 + 14
	rebaseLen    = 1 + 8
	absSyncLen   = 1 + 3 + 8 + 8 + 14 + 14
)

const (
	// bufLen bounds a datagram to the typical path MTU.
	bufLen = 1500
	// flushThreshold leaves room for the largest submessage below bufLen.
	flushThreshold = 1400
	// maxDelta is the largest timestamp offset encoded as an int32
	// delta; anything larger forces a rebase.
	maxDelta = 0x7FFFFFF0
	// maxSyncSpread is the largest even/odd timestamp gap that can be
	// delta-encoded against a shared base; beyond it the pair is sent
	// with absolute timestamps.
	maxSyncSpread = 0xFFFFFFF0
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Batcher packs messages into binary datagrams and sends them
// best-effort over a connected UDP socket. Not safe for concurrent use;
// the reactor goroutine owns it.
type Batcher struct {
	dest string
	key  uint32
	ctrs *stats.Counters
	conn udpConn

	buf  [bufLen]byte
	used int
	// base is meaningful only while used > 0; an empty buffer has no
	// base timestamp.
	base   uint64
	seq    uint16
	sent   uint64
	closed bool
}

// NewBatcher resolves and connects the UDP destination. The key is the
// pre-shared identifier placed in every datagram header.
func NewBatcher(dest string, key uint32, ctrs *stats.Counters) (*Batcher, error) {
	return newBatcher(dest, key, ctrs, net.ResolveUDPAddr,
		func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
			return net.DialUDP(network, laddr, raddr)
		})
}

func newBatcher(dest string, key uint32, ctrs *stats.Counters, resolve resolveFunc, dial dialFunc) (*Batcher, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Batcher{dest: dest, key: key, ctrs: ctrs, conn: conn}, nil
}

func (b *Batcher) prepareHeader(timestamp uint64) {
	b.base = timestamp
	binary.BigEndian.PutUint32(b.buf[0:], b.key)
	binary.BigEndian.PutUint16(b.buf[4:], b.seq)
	binary.BigEndian.PutUint64(b.buf[6:], b.base)
	b.used = headerLen
}

func (b *Batcher) rebase(timestamp uint64) {
	b.base = timestamp
	b.buf[b.used] = typeRebase
	binary.BigEndian.PutUint64(b.buf[b.used+1:], b.base)
	b.used += rebaseLen
}

func putAddress(dst []byte, address uint32) {
	dst[0] = byte(address >> 16)
	dst[1] = byte(address >> 8)
	dst[2] = byte(address)
}

// delta returns the signed tick offset of timestamp from the current
// base.
func (b *Batcher) delta(timestamp uint64) int64 {
	return int64(timestamp - b.base)
}

// SendMlat appends one MLAT submessage, starting a new datagram header
// or inserting a rebase as needed.
func (b *Batcher) SendMlat(m mlat.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	if b.used == 0 {
		b.prepareHeader(m.Timestamp)
	}

	delta := b.delta(m.Timestamp)
	if delta > maxDelta || delta < -maxDelta {
		b.rebase(m.Timestamp)
		delta = 0
	}

	p := b.buf[b.used:]
	if m.Short() {
		p[0] = typeMlatShort
		b.used += mlatShortLen
	} else {
		p[0] = typeMlatLong
		b.used += mlatLongLen
	}
	putAddress(p[1:], m.Address)
	binary.BigEndian.PutUint32(p[4:], uint32(int32(delta)))
	copy(p[8:], m.Payload)

	if b.used > flushThreshold {
		b.Flush()
	}
	return nil
}

// SendSync appends one sync-pair submessage. Pairs whose timestamps are
// too far apart to share any base are sent with absolute timestamps.
func (b *Batcher) SendSync(even, odd mlat.Message) error {
	if err := even.Validate(); err != nil {
		return err
	}
	if err := odd.Validate(); err != nil {
		return err
	}

	if b.used == 0 {
		b.prepareHeader(pairMean(even.Timestamp, odd.Timestamp))
	}

	spread := int64(even.Timestamp - odd.Timestamp)
	if spread > maxSyncSpread || spread < -maxSyncSpread {
		p := b.buf[b.used:]
		p[0] = typeAbsSync
		putAddress(p[1:], even.Address)
		binary.BigEndian.PutUint64(p[4:], even.Timestamp)
		binary.BigEndian.PutUint64(p[12:], odd.Timestamp)
		copy(p[20:], even.Payload)
		copy(p[34:], odd.Payload)
		b.used += absSyncLen
	} else {
		edelta := b.delta(even.Timestamp)
		odelta := b.delta(odd.Timestamp)
		if edelta > maxDelta || edelta < -maxDelta || odelta > maxDelta || odelta < -maxDelta {
			b.rebase(pairMean(even.Timestamp, odd.Timestamp))
			edelta = b.delta(even.Timestamp)
			odelta = b.delta(odd.Timestamp)
		}

		p := b.buf[b.used:]
		p[0] = typeSync
		putAddress(p[1:], even.Address)
		binary.BigEndian.PutUint32(p[4:], uint32(int32(edelta)))
		binary.BigEndian.PutUint32(p[8:], uint32(int32(odelta)))
		copy(p[12:], even.Payload)
		copy(p[26:], odd.Payload)
		b.used += syncLen
	}

	if b.used > flushThreshold {
		b.Flush()
	}
	return nil
}

// Flush sends the pending datagram, if any. Send errors are discarded:
// UDP delivery is best-effort and one lost datagram must not stall or
// tear down the feed. Bytes are counted whether or not the send
// succeeded.
func (b *Batcher) Flush() {
	if b.used == 0 {
		return
	}

	_, _ = b.conn.Write(b.buf[:b.used])
	b.ctrs.ServerUDPBytes += uint64(b.used)

	b.used = 0
	b.seq = (b.seq + 1) & 0xffff
	b.sent++
}

// Count returns the number of datagrams flushed so far.
func (b *Batcher) Count() uint64 {
	return b.sent
}

// Close drops any pending datagram and closes the socket. Idempotent.
func (b *Batcher) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.used = 0
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

func (b *Batcher) String() string {
	return b.dest
}

// pairMean is the midpoint of a sync pair's timestamps, used as the
// base so both deltas stay small.
func pairMean(a, b uint64) uint64 {
	return a + uint64(int64(b-a)/2)
}
