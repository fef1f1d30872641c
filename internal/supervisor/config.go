package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultHeartbeatEvery = 2 * time.Second
	defaultShutdownWindow = 5 * time.Second
)

// Config wires a Supervisor's dependencies.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// BinaryPath is re-exec'd for each child with a role subcommand. Defaults
	// to os.Args[0].
	BinaryPath string

	// DataDir is the parent directory under which the session directory is
	// created; child roles are pointed at <DataDir>/<session>.
	DataDir string

	// Stdout receives the startup banner and periodic status summaries.
	Stdout io.Writer

	HeartbeatEvery time.Duration
	ShutdownWindow time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DataDir == "" {
		return errors.New("data dir is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BinaryPath == "" {
		c.BinaryPath = os.Args[0]
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.ShutdownWindow == 0 {
		c.ShutdownWindow = defaultShutdownWindow
	}
	return nil
}
