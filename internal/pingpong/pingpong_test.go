package pingpong_test

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/pingpong"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopSender struct{}

func (nopSender) WriteTo(b []byte, addr net.Addr) (int, error) { return len(b), nil }

func clockSeconds(c clockwork.Clock) float64 {
	return float64(c.Now().UnixNano()) / 1e9
}

// S5 — literal RTT/offset scenario from spec.md §4.5.
func TestOnPong_RTTAndOffsetScenario(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(100, 0))
	p := pingpong.New(discardLogger(), clock, nopSender{})
	defer p.Close()

	p.UpdateEndpoint("H10", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001})
	p.MaybeSendPings()
	t0 := clockSeconds(clock)

	const t1 = 50.010
	const t2 = 50.030
	t3 := t0 + 0.050

	p.OnPong(map[string]any{
		"type":   "pong",
		"device": "H10",
		"t0_pc":  t0,
		"t1_ph":  t1,
		"t2_ph":  t2,
	}, t3, "")

	m, ok := p.Snapshot()["H10"]
	require.True(t, ok)
	require.InDelta(t, 30.0, m.RTTMS, 1e-6)
	wantOffset := ((t1 - t0) + (t2 - t3)) / 2.0 * 1000.0
	require.InDelta(t, wantOffset, m.OffsetMS, 1e-6)
}

// P4 — RTT is clamped to zero, never negative.
func TestOnPong_RTTClampedNonNegative(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := pingpong.New(discardLogger(), clock, nopSender{})
	defer p.Close()

	p.UpdateEndpoint("H10", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001})
	p.MaybeSendPings()
	t0 := clockSeconds(clock)

	// t1/t2 chosen so the raw RTT formula would otherwise go negative.
	p.OnPong(map[string]any{
		"type":  "pong",
		"t0_pc": t0,
		"t1_ph": 1000.0,
		"t2_ph": 1000.5,
	}, t0+0.001, "H10")

	m, ok := p.Snapshot()["H10"]
	require.True(t, ok)
	require.GreaterOrEqual(t, m.RTTMS, 0.0)
}

// A pong outside the 2s correlation window is dropped.
func TestOnPong_OutsideCorrelationWindowIsDropped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := pingpong.New(discardLogger(), clock, nopSender{})
	defer p.Close()

	p.UpdateEndpoint("H10", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001})
	p.MaybeSendPings()
	t0 := clockSeconds(clock)

	p.OnPong(map[string]any{
		"type":  "pong",
		"t0_pc": t0 + 3.0,
		"t1_ph": 0.0,
		"t2_ph": 0.0,
	}, t0+3.05, "H10")

	_, ok := p.Snapshot()["H10"]
	require.False(t, ok)
}

// A pong for a device with no outstanding ping is dropped.
func TestOnPong_NoPendingPingIsDropped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := pingpong.New(discardLogger(), clock, nopSender{})
	defer p.Close()

	p.OnPong(map[string]any{
		"type":  "pong",
		"t0_pc": clockSeconds(clock),
		"t1_ph": 0.0,
		"t2_ph": 0.0,
	}, clockSeconds(clock), "Ghost")

	_, ok := p.Snapshot()["Ghost"]
	require.False(t, ok)
}
