package serial

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

const (
	// DefaultBaudRate is the HKH-11C respiration belt's fixed UART speed.
	DefaultBaudRate = 115200
	// DeviceID identifies the HKH-11C on the wire, following the start byte.
	DeviceID = 0xCC

	defaultHeartbeatEvery = 2 * time.Second
	// NominalRate is the belt's documented sample rate, used for the
	// outlet descriptor and the heartbeat's recent_samples estimate.
	NominalRate = 50.0

	// StreamName, SourceID, and Kind are the HKH-11C's fixed external
	// stream identity, per spec.md §4.8 and
	// original_source/HKH-11C/hkh_bridge_batch.py's StreamInfo. This
	// stream does not go through the PB_ registry naming convention.
	StreamName = "HB_Respiration_HKH"
	SourceID   = "HKH_Device"
	Kind       = "Respiration"
)

// CmdStart and CmdStop are the belt's documented control frames.
var (
	CmdStart = []byte{0xFF, 0xCC, 0x03, 0xA3, 0xA0}
	CmdStop  = []byte{0xFF, 0xCC, 0x03, 0xA4, 0xA1}
)

// DefaultCandidatePorts mirrors the original bridge's Windows-oriented
// candidate list; deployments override it with the hkh command's --ports
// flag, whose list is passed to OpenCandidate.
var DefaultCandidatePorts = []string{"COM5", "COM3"}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Port     Port
	Registry *outlet.Registry

	// PreviewCSV receives "LSL_Timestamp,BreathingValue" rows as they are
	// parsed, per spec.md §4.8.
	PreviewCSV io.Writer
	// Stdout receives the READY token and periodic heartbeat JSON lines.
	Stdout io.Writer

	HeartbeatEvery time.Duration
	UnderHub       bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Port == nil {
		return errors.New("serial port is required")
	}
	if c.Registry == nil {
		return errors.New("outlet registry is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PreviewCSV == nil {
		c.PreviewCSV = io.Discard
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	return nil
}
