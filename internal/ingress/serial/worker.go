// Package serial implements the HKH-11C respiration-belt worker (C8): a
// 7-byte framing protocol over a candidate serial port, pushed as a single
// arbitrary-units channel.
package serial

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

const idleSleep = 2 * time.Millisecond

// Worker runs the HKH-11C serial ingress main loop.
type Worker struct {
	cfg *Config
	out *outlet.Outlet

	startTime     time.Time
	lastHeartbeat time.Time
	lastValue     int16
}

// New validates cfg and creates the HB_Respiration_HKH outlet.
func New(cfg *Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out, err := cfg.Registry.EnsureNamed(StreamName, SourceID, Kind, 1, NominalRate, outlet.Float32, "arbitrary_units", nil)
	if err != nil {
		return nil, fmt.Errorf("ensure %s: %w", StreamName, err)
	}
	fmt.Fprintln(cfg.PreviewCSV, "LSL_Timestamp,BreathingValue")
	return &Worker{cfg: cfg, out: out}, nil
}

// Run blocks until ctx is canceled, sending the stop command and closing
// the port before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.startTime = w.cfg.Clock.Now()
	w.lastHeartbeat = w.startTime

	defer func() {
		_, _ = w.cfg.Port.Write(CmdStop)
		_ = w.cfg.Port.Close()
	}()

	if _, err := w.cfg.Port.Write(CmdStart); err != nil {
		return fmt.Errorf("send start command: %w", err)
	}
	fmt.Fprintln(w.cfg.Stdout, "READY")

	for {
		if ctx.Err() != nil {
			return nil
		}

		b, err := w.readByte(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				return nil
			}
			w.cfg.Logger.Warn("serial read error", "error", err)
			continue
		}
		if b != 0xFF {
			w.maybeHeartbeat()
			continue
		}

		id, err := w.readByte(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				return nil
			}
			continue
		}
		if id != DeviceID {
			continue
		}

		var payload [5]byte
		ok := true
		for i := range payload {
			pb, err := w.readByte(ctx)
			if err != nil {
				if ctx.Err() != nil || isClosedErr(err) {
					return nil
				}
				ok = false
				break
			}
			payload[i] = pb
		}
		if !ok {
			framingErrorsTotal.Inc()
			continue
		}

		value := int16(binary.BigEndian.Uint16(payload[3:5]))
		ts := nowSeconds(w.cfg.Clock.Now())
		if err := w.out.PushSample(ts, []float64{float64(value)}); err != nil {
			w.cfg.Logger.Debug("respiration push failed", "error", err)
		} else {
			samplesTotal.Inc()
		}
		fmt.Fprintf(w.cfg.PreviewCSV, "%f,%d\n", ts, value)
		w.lastValue = value

		w.maybeHeartbeat()
	}
}

// readByte blocks until one byte is read, the port reports an error, or
// ctx is canceled. A zero-length, nil-error read (the port's configured
// read timeout firing with no data available) triggers the idle sleep
// spec.md §4.8 calls for, to avoid a busy-spin while the line is quiet.
func (w *Worker) readByte(ctx context.Context) (byte, error) {
	buf := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		n, err := w.cfg.Port.Read(buf)
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return buf[0], nil
		}
		time.Sleep(idleSleep)
	}
}

func (w *Worker) maybeHeartbeat() {
	now := w.cfg.Clock.Now()
	if now.Sub(w.lastHeartbeat) < w.cfg.HeartbeatEvery {
		return
	}
	w.lastHeartbeat = now

	elapsed := now.Sub(w.startTime).Seconds()
	hb := map[string]any{
		"hb":             "hkh",
		"elapsed_s":      elapsed,
		"recent_samples": int(w.cfg.HeartbeatEvery.Seconds() * NominalRate),
		"last_value":     w.lastValue,
	}
	line, err := json.Marshal(hb)
	if err == nil {
		fmt.Fprintln(w.cfg.Stdout, string(line))
	}
	if !w.cfg.UnderHub {
		w.cfg.Logger.Info("hkh heartbeat", "elapsed_s", elapsed, "last_value", w.lastValue)
	}
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return strings.Contains(err.Error(), "closed")
}
