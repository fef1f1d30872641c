package serial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	goserial "go.bug.st/serial"
)

// Port is the minimal serial-port surface the worker needs, kept narrow so
// tests can substitute an in-memory fake instead of real hardware.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

const readTimeout = 50 * time.Millisecond

// OpenCandidate tries each port name in order, retrying the whole list with
// backoff a bounded number of times — the device enumerates slowly after a
// cold boot, so the first sweep commonly finds nothing. Grounded on
// original_source/src/bridges/HKH-11C/hkh_bridge_batch.py's
// try-each-candidate-in-order probe.
func OpenCandidate(ctx context.Context, log *slog.Logger, candidates []string, baud int) (Port, string, error) {
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("no candidate serial ports configured")
	}

	var found Port
	var foundName string

	attempt := func() error {
		for _, name := range candidates {
			p, err := openOnce(name, baud)
			if err != nil {
				log.Debug("candidate serial port unavailable", "port", name, "error", err)
				continue
			}
			found, foundName = p, name
			return nil
		}
		portOpenRetriesTotal.Inc()
		return fmt.Errorf("no candidate port accepted baud %d among %v", baud, candidates)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, "", err
	}
	log.Info("opened serial port", "port", foundName, "baud", baud)
	return found, foundName, nil
}

func openOnce(name string, baud int) (Port, error) {
	port, err := goserial.Open(name, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}
	return port, nil
}
