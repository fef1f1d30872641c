// Package clocksync maps a source device's local clock onto the host's
// monotonic timeline using a per-device EWMA offset estimator.
package clocksync

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultAlpha is the EWMA smoothing factor applied to offset updates.
	DefaultAlpha = 0.05
	// DefaultClampSeconds bounds how far a single sample may move the offset.
	DefaultClampSeconds = 1.0
)

// offsetEWMA tracks the host-minus-device clock offset for one device.
type offsetEWMA struct {
	alpha   float64
	clampS  float64
	inited  bool
	offset  float64
}

func (o *offsetEWMA) update(log *slog.Logger, sample float64) float64 {
	if !o.inited {
		o.offset = sample
		o.inited = true
		log.Info("clock offset initialized", "offset", o.offset)
		return o.offset
	}

	delta := sample - o.offset
	if delta > o.clampS || delta < -o.clampS {
		clamped := o.offset + o.clampS
		if delta < 0 {
			clamped = o.offset - o.clampS
		}
		log.Warn("clock offset sample beyond clamp", "delta", delta, "clamp", o.clampS, "sample", sample, "prev", o.offset)
		sample = clamped
	}
	o.offset = (1-o.alpha)*o.offset + o.alpha*sample
	return o.offset
}

// Sync maps per-device source timestamps onto the host clock. A Sync value
// is normally owned by a single ingress worker's main loop; MapEventTS and
// Reset hold an internal mutex, so concurrent calls are safe as well.
type Sync struct {
	log    *slog.Logger
	clock  clockwork.Clock
	alpha  float64
	clampS float64

	mu        sync.Mutex
	perDevice map[string]*offsetEWMA
}

// Option configures a Sync at construction.
type Option func(*Sync)

// WithAlpha overrides the EWMA smoothing factor.
func WithAlpha(alpha float64) Option { return func(s *Sync) { s.alpha = alpha } }

// WithClampSeconds overrides the per-update clamp.
func WithClampSeconds(clampS float64) Option { return func(s *Sync) { s.clampS = clampS } }

// WithClock overrides the clock used for the arrival-time default, for tests.
func WithClock(c clockwork.Clock) Option { return func(s *Sync) { s.clock = c } }

// New creates a clock synchronizer. log must not be nil.
func New(log *slog.Logger, opts ...Option) *Sync {
	s := &Sync{
		log:       log,
		clock:     clockwork.NewRealClock(),
		alpha:     DefaultAlpha,
		clampS:    DefaultClampSeconds,
		perDevice: make(map[string]*offsetEWMA),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sync) get(device string) *offsetEWMA {
	o, ok := s.perDevice[device]
	if !ok {
		o = &offsetEWMA{alpha: s.alpha, clampS: s.clampS}
		s.perDevice[device] = o
	}
	return o
}

// MapEventTS maps a device-clock event time onto the host clock.
//
// tDevice is the device-clock time the packet carries for arrival
// accounting; tEvent, if present, is the (possibly earlier) device-clock
// event time that should be reported instead of tDevice once shifted by
// the offset. tArrival defaults to the current host time when nil.
func (s *Sync) MapEventTS(device string, tDevice, tEvent, tArrival *float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	arrival := s.nowSeconds()
	if tArrival != nil {
		arrival = *tArrival
	}

	if tDevice == nil {
		return arrival
	}

	off := s.get(device).update(s.log, arrival-*tDevice)
	if tEvent != nil {
		return *tEvent + off
	}
	return *tDevice + off
}

// Reset clears offset state for one device, or all devices when device is "".
func (s *Sync) Reset(device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device == "" {
		s.perDevice = make(map[string]*offsetEWMA)
		return
	}
	delete(s.perDevice, device)
}

func (s *Sync) nowSeconds() float64 {
	return float64(s.clock.Now().UnixNano()) / 1e9
}
