package polar_test

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/clocksync"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/polar"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture() (*outlet.Registry, *clocksync.Sync) {
	return outlet.New(discardLogger(), ""), clocksync.New(discardLogger())
}

func TestHandle_HR(t *testing.T) {
	reg, clock := newFixture()
	ok := polar.Handle(map[string]any{
		"type": "hr", "device": "H10", "bpm": 72.0, "t_device": 1.0,
	}, 100.0, reg, clock)
	require.True(t, ok)

	o, err := reg.Ensure("hr", "H10", 1, 0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)
	require.Equal(t, "bpm", o.Descriptor.Units)
}

func TestHandle_HRMissingBPMIsRejected(t *testing.T) {
	reg, clock := newFixture()
	ok := polar.Handle(map[string]any{"type": "hr", "device": "H10"}, 100.0, reg, clock)
	require.False(t, ok)
}

func TestHandle_PPIChannelShape(t *testing.T) {
	reg, clock := newFixture()
	var got []outlet.Sample
	ok := polar.Handle(map[string]any{
		"type": "ppi", "device": "H10", "ms": 800.0, "quality": 1.0,
		"blocker": true, "skinContact": 1.0, "skinSupported": false,
		"t_device": 1.0, "te": 0.5,
	}, 100.0, reg, clock)
	require.True(t, ok)

	o, err := reg.Ensure("ppi", "H10", 6, 0, outlet.Float32, "ms,quality,blocker,skinContact,skinSupported,te", nil)
	require.NoError(t, err)
	o.SetPublisher(recordingPublisher(&got))

	ok = polar.Handle(map[string]any{
		"type": "ppi", "device": "H10", "ms": 801.0, "quality": 1.0,
		"blocker": true, "skinContact": 1.0, "skinSupported": false,
		"t_device": 1.0, "te": 0.5,
	}, 100.0, reg, clock)
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, []float64{801.0, 1.0, 1.0, 1.0, 0.0, 0.5}, got[0].Values)
}

func TestHandle_RRMissingMSIsRejected(t *testing.T) {
	reg, clock := newFixture()
	ok := polar.Handle(map[string]any{"type": "rr", "device": "H10"}, 100.0, reg, clock)
	require.False(t, ok)
}

func TestHandle_RRWithoutTeUsesNaN(t *testing.T) {
	reg, clock := newFixture()
	var got []outlet.Sample
	o, err := reg.Ensure("rr", "H10", 2, 0, outlet.Float32, "ms,te", nil)
	require.NoError(t, err)
	o.SetPublisher(recordingPublisher(&got))

	ok := polar.Handle(map[string]any{"type": "rr", "device": "H10", "ms": 845.0}, 100.0, reg, clock)
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, 845.0, got[0].Values[0])
	require.True(t, math.IsNaN(got[0].Values[1]))
}

func TestHandle_ECGChunk(t *testing.T) {
	reg, clock := newFixture()
	var got []outlet.Sample
	o, err := reg.Ensure("ecg", "H10", 1, 130.0, outlet.Float32, "uV", nil)
	require.NoError(t, err)
	o.SetPublisher(recordingPublisher(&got))

	ok := polar.Handle(map[string]any{
		"type": "ecg", "device": "H10", "fs": 130.0,
		"uV": []any{1.0, 2.0, 3.0},
	}, 1000.0, reg, clock)
	require.True(t, ok)
	require.Len(t, got, 3)
	require.InDelta(t, 1000.0, got[2].HostTS, 1e-9)
}

func TestHandle_ACCRequiresThreeChannelRows(t *testing.T) {
	reg, clock := newFixture()
	ok := polar.Handle(map[string]any{
		"type": "acc", "device": "H10", "fs": 50.0,
		"mG": []any{[]any{1.0, 2.0}},
	}, 1000.0, reg, clock)
	require.False(t, ok)
}

func TestHandle_PPGUsesDynamicChannelCount(t *testing.T) {
	reg, clock := newFixture()
	var got []outlet.Sample
	o, err := reg.Ensure("ppg", "H10", 4, 55.0, outlet.Float32, "a.u.", nil)
	require.NoError(t, err)
	o.SetPublisher(recordingPublisher(&got))

	ok := polar.Handle(map[string]any{
		"type": "ppg", "device": "H10", "fs": 55.0, "ch": 4.0,
		"mU": []any{[]any{1.0, 2.0, 3.0, 4.0}},
	}, 1000.0, reg, clock)
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, []float64{1, 2, 3, 4}, got[0].Values)
}

func TestHandle_UnknownTypeIsRejected(t *testing.T) {
	reg, clock := newFixture()
	ok := polar.Handle(map[string]any{"type": "hub_status"}, 100.0, reg, clock)
	require.False(t, ok)
}

func recordingPublisher(dst *[]outlet.Sample) outlet.Publisher {
	return &testPublisher{dst: dst}
}

type testPublisher struct{ dst *[]outlet.Sample }

func (p *testPublisher) Publish(s outlet.Sample) { *p.dst = append(*p.dst, s) }
func (p *testPublisher) Close() error            { return nil }
