// Package streammetrics accounts for per-(device,kind) packet loss,
// reordering, inter-arrival jitter, and fixed-rate sample throughput over
// short and long rolling windows.
package streammetrics

import "math"

// Defaults for the short and long rolling windows, in seconds.
const (
	DefaultShortWindowSeconds = 10.0
	DefaultLongWindowSeconds  = 60.0
)

// controlTypes never reach the counters or windows: they are network
// control messages, not biosignal data.
var controlTypes = map[string]bool{"ping": true, "pong": true, "hub_status": true}

// Key identifies one accounted stream.
type Key struct {
	Device string
	Kind   string
}

// Packet is the subset of an inbound message streammetrics needs.
type Packet struct {
	Type   string
	Device string
	Seq    *int
	FS     *float64
	N      *int
}

type counters struct {
	recv, missing, outOfOrder int
	lastSeq                   *int
}

type sampleRow struct {
	t  float64
	n  int
	fs float64
}

type window struct {
	seconds  float64
	arrivals []float64
	samples  []sampleRow
}

func newWindow(seconds float64) *window {
	return &window{seconds: seconds}
}

func (w *window) addArrival(t float64) {
	w.arrivals = append(w.arrivals, t)
	w.prune(t)
}

func (w *window) addSamples(t float64, n int, fs float64) {
	w.samples = append(w.samples, sampleRow{t: t, n: n, fs: fs})
	w.prune(t)
}

func (w *window) prune(now float64) {
	cutoff := now - w.seconds
	i := 0
	for i < len(w.arrivals) && w.arrivals[i] < cutoff {
		i++
	}
	w.arrivals = w.arrivals[i:]

	j := 0
	for j < len(w.samples) && w.samples[j].t < cutoff {
		j++
	}
	w.samples = w.samples[j:]
}

// InterarrivalStats is the rate/jitter summary over a window.
type InterarrivalStats struct {
	RateHz   float64
	JitterMS float64
}

func (w *window) interarrivalStats() InterarrivalStats {
	if len(w.arrivals) < 2 {
		return InterarrivalStats{}
	}
	dts := make([]float64, 0, len(w.arrivals)-1)
	for i := 1; i < len(w.arrivals); i++ {
		dts = append(dts, w.arrivals[i]-w.arrivals[i-1])
	}
	mean := 0.0
	for _, d := range dts {
		mean += d
	}
	mean /= float64(len(dts))

	var variance float64
	denom := len(dts) - 1
	if denom < 1 {
		denom = 1
	}
	for _, d := range dts {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(denom)

	rate := 0.0
	if mean > 0 {
		rate = 1.0 / mean
	}
	return InterarrivalStats{RateHz: rate, JitterMS: math.Sqrt(variance) * 1000.0}
}

// SampleStats is the fixed-rate throughput summary over the long window.
type SampleStats struct {
	Arrived  float64
	Expected float64
	Gap      float64
}

func (w *window) sampleStats() SampleStats {
	if len(w.samples) == 0 {
		return SampleStats{}
	}
	now := w.samples[len(w.samples)-1].t
	start := w.samples[0].t
	elapsed := now - start
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > w.seconds {
		elapsed = w.seconds
	}

	var arrived float64
	for _, s := range w.samples {
		arrived += float64(s.n)
	}

	var fs float64
	for i := len(w.samples) - 1; i >= 0; i-- {
		if w.samples[i].fs > 0 {
			fs = w.samples[i].fs
			break
		}
	}

	expected := 0.0
	if fs > 0 {
		expected = fs * elapsed
	}
	gap := expected - arrived
	if gap < 0 {
		gap = 0
	}
	return SampleStats{Arrived: arrived, Expected: expected, Gap: gap}
}

// Snapshot is one key's accounted state.
type Snapshot struct {
	Key             Key
	Recv, Missing, OutOfOrder int
	LossRate        float64
	Short, Long     InterarrivalStats
	SamplesLong     SampleStats
}

// Metrics accounts loss/reordering/jitter/throughput per (device, kind).
// It is owned by a single ingress worker's main loop; no internal locking
// is performed, per spec.md §5's single-threaded hot-path model.
type Metrics struct {
	shortSeconds, longSeconds float64

	counters map[Key]*counters
	short    map[Key]*window
	long     map[Key]*window
}

// Option configures a Metrics at construction.
type Option func(*Metrics)

// WithWindows overrides the short/long window durations in seconds.
func WithWindows(shortS, longS float64) Option {
	return func(m *Metrics) { m.shortSeconds, m.longSeconds = shortS, longS }
}

// New creates a Metrics accountant with the default 10s/60s windows.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		shortSeconds: DefaultShortWindowSeconds,
		longSeconds:  DefaultLongWindowSeconds,
		counters:     make(map[Key]*counters),
		short:        make(map[Key]*window),
		long:         make(map[Key]*window),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe records one inbound packet's arrival at host monotonic time
// tMono. Control-typed packets (ping, pong, hub_status) are dropped
// before touching any counter or window, per P6.
func (m *Metrics) Observe(p Packet, tMono float64) {
	if controlTypes[p.Type] {
		return
	}
	if p.Type == "" || p.Device == "" {
		return
	}

	k := Key{Device: p.Device, Kind: p.Type}

	c, ok := m.counters[k]
	if !ok {
		c = &counters{}
		m.counters[k] = c
	}
	c.recv++
	PacketsReceived.WithLabelValues(p.Device, p.Type).Inc()

	if p.Seq != nil {
		if c.lastSeq != nil {
			gap := *p.Seq - *c.lastSeq - 1
			switch {
			case gap > 0:
				c.missing += gap
				PacketsMissing.WithLabelValues(p.Device, p.Type).Add(float64(gap))
			case gap < 0:
				c.outOfOrder++
				PacketsOutOfOrder.WithLabelValues(p.Device, p.Type).Inc()
			}
		}
		if c.lastSeq == nil || *p.Seq > *c.lastSeq {
			seq := *p.Seq
			c.lastSeq = &seq
		}
	}

	sw, ok := m.short[k]
	if !ok {
		sw = newWindow(m.shortSeconds)
		m.short[k] = sw
	}
	lw, ok := m.long[k]
	if !ok {
		lw = newWindow(m.longSeconds)
		m.long[k] = lw
	}

	sw.addArrival(tMono)
	lw.addArrival(tMono)

	if p.FS != nil && p.N != nil {
		sw.addSamples(tMono, *p.N, *p.FS)
		lw.addSamples(tMono, *p.N, *p.FS)
	}
}

// Snapshot returns the current accounted state for every observed key.
func (m *Metrics) Snapshot() []Snapshot {
	keys := make(map[Key]struct{})
	for k := range m.counters {
		keys[k] = struct{}{}
	}
	for k := range m.long {
		keys[k] = struct{}{}
	}

	out := make([]Snapshot, 0, len(keys))
	for k := range keys {
		c := m.counters[k]
		if c == nil {
			c = &counters{}
		}
		lossRate := 0.0
		if denom := c.recv + c.missing; denom > 0 {
			lossRate = float64(c.missing) / float64(denom)
		}

		var shortStats, longStats InterarrivalStats
		if w, ok := m.short[k]; ok {
			shortStats = w.interarrivalStats()
		}
		var longSamples SampleStats
		if w, ok := m.long[k]; ok {
			longStats = w.interarrivalStats()
			longSamples = w.sampleStats()
		}

		out = append(out, Snapshot{
			Key:         k,
			Recv:        c.recv,
			Missing:     c.missing,
			OutOfOrder:  c.outOfOrder,
			LossRate:    lossRate,
			Short:       shortStats,
			Long:        longStats,
			SamplesLong: longSamples,
		})
	}
	return out
}
