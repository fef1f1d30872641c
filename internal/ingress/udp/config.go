package udp

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lijian-bjfu/physiobridge/internal/clocksync"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/pingpong"
	"github.com/lijian-bjfu/physiobridge/internal/streammetrics"
)

const (
	defaultListenAddr     = "0.0.0.0:9001"
	defaultReceiveBufSize = 4 << 20 // 4 MiB, per spec.md §4.7.
	defaultReadBufSize    = 65535
	defaultReadTimeout    = 250 * time.Millisecond
	defaultHeartbeatEvery = 5 * time.Second
)

// Config wires a Worker's dependencies. Logger, Conn, Registry, Metrics,
// ClockSync, and PingPong are required; everything else defaults.
type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Conn      *net.UDPConn
	Registry  *outlet.Registry
	Metrics   *streammetrics.Metrics
	ClockSync *clocksync.Sync
	PingPong  *pingpong.PingPong

	// RawLog receives one JSON line per inbound datagram: {ts_host, remote, raw}.
	RawLog io.Writer

	// MetricsLog receives one JSON line per heartbeat tick:
	// {ts, snapshot, timesync}, per spec.md §4.7 step 6.
	MetricsLog io.Writer

	// Stdout receives the READY token and periodic heartbeat JSON lines
	// the supervisor reads from this worker's child process stdout.
	Stdout io.Writer

	ReadBufSize    int
	ReadTimeout    time.Duration
	HeartbeatEvery time.Duration

	// UnderHub suppresses human-readable heartbeat summaries in favor of
	// the machine-parseable {hb:"polar",...} line alone, per spec.md §4.10.
	UnderHub bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Conn == nil {
		return errors.New("udp conn is required")
	}
	if c.Registry == nil {
		return errors.New("outlet registry is required")
	}
	if c.Metrics == nil {
		return errors.New("stream metrics is required")
	}
	if c.ClockSync == nil {
		return errors.New("clock sync is required")
	}
	if c.PingPong == nil {
		return errors.New("ping-pong prober is required")
	}
	if c.RawLog == nil {
		c.RawLog = io.Discard
	}
	if c.MetricsLog == nil {
		c.MetricsLog = io.Discard
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ReadBufSize == 0 {
		c.ReadBufSize = defaultReadBufSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	return nil
}

// Listen opens and configures the UDP socket spec.md §4.7 describes:
// bound to 0.0.0.0:9001 with a large receive buffer.
func Listen() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", defaultListenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(defaultReceiveBufSize); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
