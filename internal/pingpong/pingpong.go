// Package pingpong implements the NTP-like four-timestamp round-trip-time
// and clock-offset probe that piggy-backs on the UDP ingress socket.
package pingpong

import (
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

// DefaultPeriod is how often a ping is (re-)sent to each known device.
const DefaultPeriod = 10 * time.Second

// pendingTTL bounds how long an outstanding ping is eligible to be
// correlated with an inbound pong, per spec.md §4.5's "|pending - t0_pc| ≤ 2s".
const pendingTTL = 2 * time.Second

// endpointIdleTTL evicts a device's remembered UDP endpoint once it has
// stopped sending packets for this long, so a disconnected device does not
// accumulate pings forever.
const endpointIdleTTL = 10 * time.Minute

// Sender abstracts the outbound UDP send so PingPong can be driven from
// the ingress worker's own socket without owning it.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Measurement is the most recent RTT/offset estimate for one device.
type Measurement struct {
	TSHost   float64
	RTTMS    float64
	OffsetMS float64
}

// PingPong tracks per-device endpoints, outstanding pings, and the most
// recent RTT/offset measurement. It is owned by a single ingress worker's
// main loop.
type PingPong struct {
	log    *slog.Logger
	clock  clockwork.Clock
	sender Sender
	period time.Duration

	endpoints *ttlcache.Cache[string, net.Addr]
	pending   *ttlcache.Cache[string, float64]
	last      map[string]Measurement

	lastSent time.Time
}

// New creates a PingPong prober bound to sender.
func New(log *slog.Logger, clock clockwork.Clock, sender Sender) *PingPong {
	p := &PingPong{
		log:       log,
		clock:     clock,
		sender:    sender,
		period:    DefaultPeriod,
		endpoints: ttlcache.New[string, net.Addr](ttlcache.WithTTL[string, net.Addr](endpointIdleTTL)),
		pending:   ttlcache.New[string, float64](ttlcache.WithTTL[string, float64](pendingTTL)),
		last:      make(map[string]Measurement),
	}
	go p.endpoints.Start()
	go p.pending.Start()
	return p
}

// Close stops the background TTL janitors.
func (p *PingPong) Close() {
	p.endpoints.Stop()
	p.pending.Stop()
}

// UpdateEndpoint records device's current UDP source address, called
// whenever the ingress worker observes a packet carrying a device label.
func (p *PingPong) UpdateEndpoint(device string, addr net.Addr) {
	if device == "" || addr == nil {
		return
	}
	p.endpoints.Set(device, addr, ttlcache.DefaultTTL)
}

// MaybeSendPings sends one ping to every known device endpoint, at most
// once per period. Called periodically from the ingress worker's
// heartbeat tick.
func (p *PingPong) MaybeSendPings() {
	now := p.clock.Now()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.period {
		return
	}
	p.lastSent = now

	for _, device := range p.endpoints.Keys() {
		item := p.endpoints.Get(device)
		if item == nil {
			continue
		}
		addr := item.Value()

		t0 := nowSeconds(now)
		pkt := map[string]any{"type": "ping", "t0_pc": t0, "device": device}
		body, err := json.Marshal(pkt)
		if err != nil {
			continue
		}
		if _, err := p.sender.WriteTo(body, addr); err != nil {
			p.log.Debug("ping send failed", "device", device, "error", err)
			continue
		}
		p.pending.Set(device, t0, ttlcache.DefaultTTL)
		pingsSentTotal.WithLabelValues(device).Inc()
	}
}

// OnPong processes an inbound pong JSON object. recvTPC is the host
// arrival time (seconds). deviceHint, if non-empty, overrides the
// packet's own device field. A pong with no matching pending ping within
// the correlation window is silently dropped, per spec.md §7.
func (p *PingPong) OnPong(obj map[string]any, recvTPC float64, deviceHint string) {
	if t, _ := obj["type"].(string); t != "pong" {
		return
	}

	device := deviceHint
	if device == "" {
		device, _ = obj["device"].(string)
	}
	if device == "" {
		device, _ = obj["deviceLabel"].(string)
	}
	if device == "" {
		device = "UNKNOWN"
	}

	t0, ok0 := numeric(obj["t0_pc"])
	t1, ok1 := numeric(obj["t1_ph"])
	t2, ok2 := numeric(obj["t2_ph"])
	if !ok0 || !ok1 || !ok2 {
		return
	}

	item := p.pending.Get(device)
	if item == nil {
		pongsDroppedTotal.WithLabelValues(device).Inc()
		return
	}
	pend := item.Value()
	if diff := pend - t0; diff > 2.0 || diff < -2.0 {
		pongsDroppedTotal.WithLabelValues(device).Inc()
		return
	}

	rtt := (recvTPC - t0) - (t2 - t1)
	if rtt < 0 {
		rtt = 0
	}
	offset := ((t1 - t0) + (t2 - recvTPC)) / 2.0

	p.last[device] = Measurement{
		TSHost:   recvTPC,
		RTTMS:    rtt * 1000.0,
		OffsetMS: offset * 1000.0,
	}
	p.pending.Delete(device)
	pongsMatchedTotal.WithLabelValues(device).Inc()
	rttMS.WithLabelValues(device).Set(rtt * 1000.0)
	offsetMS.WithLabelValues(device).Set(offset * 1000.0)
}

// Snapshot returns a copy of the most recent measurement per device.
func (p *PingPong) Snapshot() map[string]Measurement {
	out := make(map[string]Measurement, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

func numeric(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
