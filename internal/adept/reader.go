package adept

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"mlat-uplink/internal/stats"
)

// Reader assembles the control-plane byte stream into tab-separated
// records and dispatches them. Fragmentation is arbitrary: a record may
// arrive one byte at a time or many records in one chunk.
type Reader struct {
	conn  *Connection
	coord Coordinator
	ctrs  *stats.Counters
	log   *logrus.Entry

	partial  []byte
	closed   bool
	handlers map[string]func(rec map[string]string) error
}

func newReader(conn *Connection, coord Coordinator, ctrs *stats.Counters, log *logrus.Entry) *Reader {
	r := &Reader{conn: conn, coord: coord, ctrs: ctrs, log: log}
	r.handlers = map[string]func(map[string]string) error{
		"mlat_wanted":   r.handleWanted,
		"mlat_unwanted": r.handleUnwanted,
		"mlat_result":   r.handleResult,
		"mlat_status":   r.handleStatus,
	}
	return r
}

// OnBytes is invoked by the reactor with the bytes of one read. An
// empty chunk signals end-of-stream and closes the reader. Records are
// dispatched in stream order; a record that fails to parse is logged
// and skipped without disturbing the rest of the stream.
func (r *Reader) OnBytes(chunk []byte) {
	if r.closed {
		return
	}
	if len(chunk) == 0 {
		r.Close()
		return
	}

	r.ctrs.ServerRxBytes += uint64(len(chunk))

	data := append(r.partial, chunk...)
	lines := bytes.Split(data, []byte{'\n'})
	for _, line := range lines[:len(lines)-1] {
		if err := r.processLine(string(line)); err != nil {
			r.log.WithError(err).Warn("dropping bad server record")
		}
	}
	// The final segment may be an incomplete record; keep it for the
	// next read.
	r.partial = append([]byte(nil), lines[len(lines)-1]...)
}

// Close is idempotent and tears down the whole connection: losing the
// control-plane input means the parent is gone.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.conn.Disconnect()
}

func (r *Reader) processLine(line string) error {
	fields := strings.Split(line, "\t")
	rec := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		rec[fields[i]] = fields[i+1]
	}

	typ, ok := rec["type"]
	if !ok {
		return fmt.Errorf("record has no type: %q", line)
	}

	handler := r.handlers[typ]
	if handler == nil {
		// Unknown record types are expected from newer servers.
		return nil
	}
	return handler(rec)
}

func (r *Reader) handleWanted(rec map[string]string) error {
	wanted, err := parseAddressSet(rec)
	if err != nil {
		return err
	}
	r.coord.ServerStartSending(wanted)
	return nil
}

func (r *Reader) handleUnwanted(rec map[string]string) error {
	unwanted, err := parseAddressSet(rec)
	if err != nil {
		return err
	}
	r.coord.ServerStopSending(unwanted)
	return nil
}

func (r *Reader) handleResult(rec map[string]string) error {
	addr, err := requireHex(rec, "hexid")
	if err != nil {
		return err
	}

	res := Result{Address: addr}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"lat", &res.Lat},
		{"lon", &res.Lon},
		{"alt", &res.Alt},
		{"nsvel", &res.NSVel},
		{"ewvel", &res.EWVel},
		{"fpm", &res.VRate},
	} {
		v, ok := rec[f.key]
		if !ok {
			return fmt.Errorf("mlat_result missing %s", f.key)
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("mlat_result bad %s: %w", f.key, err)
		}
		*f.dst = x
	}

	r.coord.ServerMlatResult(res)
	return nil
}

func (r *Reader) handleStatus(rec map[string]string) error {
	status, ok := rec["status"]
	if !ok {
		status = "unknown"
	}

	count := 0
	if v, ok := rec["receiver_sync_count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("mlat_status bad receiver_sync_count: %w", err)
		}
		count = n
	}

	switch status {
	case "ok":
		r.conn.setStatus(fmt.Sprintf("synchronized with %d nearby receivers", count))
	case "unstable":
		r.conn.setStatus("clock unstable")
	case "no_sync":
		r.conn.setStatus("not synchronized with any nearby receivers")
	default:
		// Unknown statuses from newer servers still get displayed.
		r.conn.setStatus(fmt.Sprintf("%s %d", status, count))
	}
	return nil
}

func requireHex(rec map[string]string, key string) (uint32, error) {
	v, ok := rec[key]
	if !ok {
		return 0, fmt.Errorf("record missing %s", key)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", key, v, err)
	}
	return uint32(n), nil
}

func parseAddressSet(rec map[string]string) (map[uint32]struct{}, error) {
	v, ok := rec["hexids"]
	if !ok {
		return nil, fmt.Errorf("record missing hexids")
	}

	set := make(map[uint32]struct{})
	if v == "" {
		return set, nil
	}
	for _, tok := range strings.Split(v, " ") {
		n, err := strconv.ParseUint(tok, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad hexid %q: %w", tok, err)
		}
		set[uint32(n)] = struct{}{}
	}
	return set, nil
}
