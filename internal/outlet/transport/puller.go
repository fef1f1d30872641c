package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// Puller is a client connection to one producing worker's exposure
// server, used by the Mirror Recorder to pull samples for every outlet
// that worker advertises.
type Puller struct {
	conn net.Conn
}

// Dial connects to an exposure server at addr.
func Dial(ctx context.Context, addr string) (*Puller, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial exposure server %s: %w", addr, err)
	}
	return &Puller{conn: conn}, nil
}

// Close closes the underlying connection.
func (p *Puller) Close() error { return p.conn.Close() }

// Next reads the next record from the stream, blocking until one arrives,
// ctx is cancelled, or the connection is closed (io.EOF).
func (p *Puller) Next(ctx context.Context) (Record, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetReadDeadline(deadline)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(p.conn, lenBuf[:]); err != nil {
		return Record{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(p.conn, body); err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

// pollTimeout bounds how long PullAvailable waits for the next record
// before concluding the stream is momentarily dry.
const pollTimeout = 5 * time.Millisecond

// PullAvailable drains every record currently readable without blocking
// past a short per-read deadline, matching the Mirror pull loop's
// non-blocking "pull all available samples" semantics (spec.md §4.9).
func (p *Puller) PullAvailable() ([]Record, error) {
	var out []Record
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
			return out, fmt.Errorf("set read deadline: %w", err)
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(p.conn, lenBuf[:]); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return out, nil
			}
			return out, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])

		body := make([]byte, n)
		if _, err := io.ReadFull(p.conn, body); err != nil {
			return out, err
		}

		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return out, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
}
