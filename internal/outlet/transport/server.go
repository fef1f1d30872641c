package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

const (
	defaultRingCapacity = 4096
	defaultDrainPeriod  = 20 * time.Millisecond
)

// publisher adapts one outlet's pushes onto a named ring inside a Server.
type publisher struct {
	sourceID    string
	ring        *ring
	lastDropped uint64
}

func (p *publisher) Publish(s outlet.Sample) {
	isText := s.Text != ""
	p.ring.add(p.sourceID, s.HostTS, s.Values, s.Text, isText)

	dropped := p.ring.droppedCount()
	if dropped > p.lastDropped {
		DroppedSamplesTotal.WithLabelValues(p.sourceID).Add(float64(dropped - p.lastDropped))
		p.lastDropped = dropped
	}
}

func (p *publisher) Close() error { return nil }

// Server exposes every outlet registered with it to a single connected
// puller at a time, streaming newly-pushed samples as length-prefixed
// JSON records. Only one active connection is supported, matching the
// expected deployment of one mirror recorder per session (spec.md §9
// excludes multi-host coordination); a new connection replaces the prior
// one.
type Server struct {
	log      *slog.Logger
	name     string
	listener net.Listener

	mu      sync.Mutex
	rings   map[string]*ring // source_id -> ring
	active  net.Conn
}

// NewServer creates an exposure server bound to listener. name identifies
// the owning worker (polar, hkh) for metrics labeling.
func NewServer(log *slog.Logger, name string, listener net.Listener) *Server {
	return &Server{
		log:      log,
		name:     name,
		listener: listener,
		rings:    make(map[string]*ring),
	}
}

// Addr returns the address pullers should dial.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Expose wires o's pushes into this server's stream and returns the
// outlet's source id for use in a discovery descriptor.
func (s *Server) Expose(o *outlet.Outlet) string {
	s.mu.Lock()
	r := newRing(defaultRingCapacity)
	s.rings[o.Descriptor.SourceID] = r
	s.mu.Unlock()

	o.SetPublisher(&publisher{sourceID: o.Descriptor.SourceID, ring: r})
	return o.Descriptor.SourceID
}

// Serve accepts connections and drains registered rings to the active one
// until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
		s.mu.Lock()
		if s.active != nil {
			_ = s.active.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				return nil
			}
			s.log.Warn("exposure server accept error", "error", err)
			continue
		}

		s.mu.Lock()
		if s.active != nil {
			_ = s.active.Close()
		}
		s.active = conn
		s.mu.Unlock()
		ActivePullers.WithLabelValues(s.name).Set(1)

		go s.drainLoop(ctx, conn)
	}
}

func (s *Server) drainLoop(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		if s.active == conn {
			s.active = nil
		}
		s.mu.Unlock()
		ActivePullers.WithLabelValues(s.name).Set(0)
	}()

	ticker := time.NewTicker(defaultDrainPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushTo(conn); err != nil {
				if !isClosedErr(err) {
					s.log.Debug("exposure drain write failed", "error", err)
				}
				return
			}
		}
	}
}

func (s *Server) flushTo(conn net.Conn) error {
	s.mu.Lock()
	rings := make([]*ring, 0, len(s.rings))
	for _, r := range s.rings {
		rings = append(rings, r)
	}
	s.mu.Unlock()

	for _, r := range rings {
		for _, rec := range r.drain() {
			body, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
			if _, err := conn.Write(lenBuf[:]); err != nil {
				return err
			}
			if _, err := conn.Write(body); err != nil {
				return err
			}
		}
	}
	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || strings.Contains(err.Error(), "use of closed network connection")
}
