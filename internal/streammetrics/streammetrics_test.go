package streammetrics_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/streammetrics"
)

func intp(i int) *int         { return &i }
func fp(f float64) *float64   { return &f }

// S3 — loss accounting.
func TestObserve_LossAndOutOfOrderAccounting(t *testing.T) {
	m := streammetrics.New()

	m.Observe(streammetrics.Packet{Type: "ppg", Device: "Verity", Seq: intp(0)}, 0.0)
	m.Observe(streammetrics.Packet{Type: "ppg", Device: "Verity", Seq: intp(1)}, 0.1)
	m.Observe(streammetrics.Packet{Type: "ppg", Device: "Verity", Seq: intp(4)}, 0.2)

	snap := findSnapshot(t, m, "Verity", "ppg")
	require.Equal(t, 3, snap.Recv)
	require.Equal(t, 2, snap.Missing)
	require.Equal(t, 0, snap.OutOfOrder)

	m.Observe(streammetrics.Packet{Type: "ppg", Device: "Verity", Seq: intp(3)}, 0.3)
	snap = findSnapshot(t, m, "Verity", "ppg")
	require.Equal(t, 1, snap.OutOfOrder)
	require.Equal(t, 2, snap.Missing)
}

// S2 — fixed-rate chunk: recv increments once per packet, missing unchanged.
func TestObserve_FixedRateChunkDoesNotAffectMissing(t *testing.T) {
	m := streammetrics.New()
	m.Observe(streammetrics.Packet{Type: "ecg", Device: "H10", Seq: intp(1), FS: fp(130.0), N: intp(4)}, 0.0)

	snap := findSnapshot(t, m, "H10", "ecg")
	require.Equal(t, 1, snap.Recv)
	require.Equal(t, 0, snap.Missing)
}

// P6 — control-typed packets never touch counters.
func TestObserve_ControlTypesAreDropped(t *testing.T) {
	m := streammetrics.New()
	m.Observe(streammetrics.Packet{Type: "ping", Device: "H10"}, 0.0)
	m.Observe(streammetrics.Packet{Type: "pong", Device: "H10"}, 0.1)
	m.Observe(streammetrics.Packet{Type: "hub_status", Device: "H10"}, 0.2)

	require.Empty(t, m.Snapshot())
}

// P5 — loss_rate in [0,1].
func TestSnapshot_LossRateBounds(t *testing.T) {
	m := streammetrics.New()
	for i := 0; i < 5; i++ {
		m.Observe(streammetrics.Packet{Type: "hr", Device: "H10", Seq: intp(i * 2)}, float64(i))
	}
	snap := findSnapshot(t, m, "H10", "hr")
	require.GreaterOrEqual(t, snap.LossRate, 0.0)
	require.LessOrEqual(t, snap.LossRate, 1.0)
}

func findSnapshot(t *testing.T, m *streammetrics.Metrics, device, kind string) streammetrics.Snapshot {
	t.Helper()
	for _, s := range m.Snapshot() {
		if s.Key.Device == device && s.Key.Kind == kind {
			return s
		}
	}
	t.Fatalf("no snapshot for (%s, %s)", device, kind)
	return streammetrics.Snapshot{}
}
