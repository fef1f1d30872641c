package clocksync_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/clocksync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// S1 — RR event translation from spec.md.
func TestMapEventTS_FirstSampleInitializesOffset(t *testing.T) {
	s := clocksync.New(discardLogger())

	tDevice := 1000.000
	tEvent := 1000.020
	tArrival := 5000.100

	got := s.MapEventTS("H10", &tDevice, &tEvent, &tArrival)
	require.InDelta(t, 5000.120, got, 1e-9)
}

func TestMapEventTS_NilDeviceTimeFallsBackToArrival(t *testing.T) {
	s := clocksync.New(discardLogger())
	tArrival := 42.5
	got := s.MapEventTS("H10", nil, nil, &tArrival)
	require.Equal(t, 42.5, got)
}

// P3 — a sample beyond clamp shifts the offset by at most alpha*clamp.
func TestMapEventTS_ClampLimitsSingleUpdate(t *testing.T) {
	s := clocksync.New(discardLogger(), clocksync.WithAlpha(0.05), clocksync.WithClampSeconds(1.0))

	t0 := 0.0
	arrival0 := 10.0
	s.MapEventTS("H10", &t0, nil, &arrival0) // offset initialized to 10.0

	// A huge jump in apparent offset (sample_offset = 1000 - 0 = 1000).
	t2 := 0.0
	arrival1 := 1000.0
	before := 10.0
	got := s.MapEventTS("H10", &t2, nil, &arrival1)
	shift := got - before
	require.LessOrEqual(t, shift, 0.05*1.0+1e-9)
}

// P2 — monotonic mapped timestamps when no clamp event occurs.
func TestMapEventTS_MonotonicWithoutClamp(t *testing.T) {
	s := clocksync.New(discardLogger())

	t0, a0 := 100.0, 200.0
	first := s.MapEventTS("H10", &t0, nil, &a0)

	t1, a1 := 100.1, 200.1
	second := s.MapEventTS("H10", &t1, nil, &a1)

	require.Greater(t, second, first)
}

func TestMapEventTS_PerDeviceIndependence(t *testing.T) {
	s := clocksync.New(discardLogger())

	td, ta := 0.0, 1000.0
	offsetA := s.MapEventTS("deviceA", &td, nil, &ta)

	ta2 := 2000.0
	offsetB := s.MapEventTS("deviceB", &td, nil, &ta2)

	require.NotEqual(t, offsetA, offsetB)
}

func TestReset(t *testing.T) {
	s := clocksync.New(discardLogger())
	td, ta := 0.0, 1000.0
	s.MapEventTS("H10", &td, nil, &ta)
	s.Reset("H10")

	ta2 := 50.0
	got := s.MapEventTS("H10", &td, nil, &ta2)
	require.InDelta(t, 50.0, got, 1e-9)
}
