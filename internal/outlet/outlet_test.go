package outlet_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnsure_IdempotentOnKindDevice(t *testing.T) {
	r := outlet.New(discardLogger(), "")

	o1, err := r.Ensure("rr", "H10", 2, 0, outlet.Float32, "ms,te", nil)
	require.NoError(t, err)
	require.Equal(t, "PB_RR_H10", o1.Descriptor.Name)

	o2, err := r.Ensure("rr", "H10", 2, 0, outlet.Float32, "ms,te", nil)
	require.NoError(t, err)
	require.Same(t, o1, o2)
}

func TestEnsure_ShapeMismatchIsFatalContractViolation(t *testing.T) {
	r := outlet.New(discardLogger(), "")
	_, err := r.Ensure("hr", "H10", 1, 0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)

	_, err = r.Ensure("hr", "H10", 2, 0, outlet.Float32, "bpm", nil)
	require.Error(t, err)
}

func TestEnsure_PerDeviceDistinctOutlets(t *testing.T) {
	r := outlet.New(discardLogger(), "")
	o1, err := r.Ensure("hr", "H10", 1, 0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)
	o2, err := r.Ensure("hr", "Verity", 1, 0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)
	require.NotEqual(t, o1.Descriptor.SourceID, o2.Descriptor.SourceID)
}

func TestEnsureNamed_UsesExplicitIdentityNotPBConvention(t *testing.T) {
	r := outlet.New(discardLogger(), "")

	o1, err := r.EnsureNamed("HB_Respiration_HKH", "HKH_Device", "Respiration", 1, 50, outlet.Float32, "arbitrary_units", nil)
	require.NoError(t, err)
	require.Equal(t, "HB_Respiration_HKH", o1.Descriptor.Name)
	require.Equal(t, "HKH_Device", o1.Descriptor.SourceID)
	require.Equal(t, "Respiration", o1.Descriptor.Kind)

	o2, err := r.EnsureNamed("HB_Respiration_HKH", "HKH_Device", "Respiration", 1, 50, outlet.Float32, "arbitrary_units", nil)
	require.NoError(t, err)
	require.Same(t, o1, o2)
}

func TestPushSample_ChannelCountValidation(t *testing.T) {
	r := outlet.New(discardLogger(), "")
	o, err := r.Ensure("hr", "H10", 1, 0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)

	require.NoError(t, o.PushSample(1.0, []float64{72.0}))
	require.Error(t, o.PushSample(1.0, []float64{72.0, 1.0}))
}

func TestPushChunk_RightAlignedTimestamps(t *testing.T) {
	r := outlet.New(discardLogger(), "")
	o, err := r.Ensure("ecg", "H10", 1, 130.0, outlet.Float32, "uV", nil)
	require.NoError(t, err)

	var got []outlet.Sample
	o.SetPublisher(recordingPublisher(&got))

	require.NoError(t, o.PushChunk(1000.0, [][]float64{{1}, {2}, {3}, {4}}))
	require.Len(t, got, 4)
	require.InDelta(t, 1000.0, got[3].HostTS, 1e-9)
	require.InDelta(t, 1000.0-3.0/130.0, got[0].HostTS, 1e-9)
}

func recordingPublisher(dst *[]outlet.Sample) outlet.Publisher {
	return &testPublisher{dst: dst}
}

type testPublisher struct{ dst *[]outlet.Sample }

func (p *testPublisher) Publish(s outlet.Sample) { *p.dst = append(*p.dst, s) }
func (p *testPublisher) Close() error            { return nil }
