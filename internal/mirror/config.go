package mirror

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultDiscoverEvery  = 5 * time.Second
	defaultPullSleep      = 20 * time.Millisecond
	defaultHeartbeatEvery = 2 * time.Second
)

// Config wires a Mirror's dependencies.
type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	SessionDir string

	// Stdout receives the READY token and periodic heartbeat JSON lines.
	Stdout io.Writer

	DiscoverEvery  time.Duration
	PullSleep      time.Duration
	HeartbeatEvery time.Duration
	UnderHub       bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.SessionDir == "" {
		return errors.New("session dir is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.DiscoverEvery == 0 {
		c.DiscoverEvery = defaultDiscoverEvery
	}
	if c.PullSleep == 0 {
		c.PullSleep = defaultPullSleep
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	return nil
}
