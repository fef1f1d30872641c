package mirror_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/mirror"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/outlet/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startExposureServer(t *testing.T, sessionDir string, reg *outlet.Registry) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := transport.NewServer(discardLogger(), "test", ln)
	for _, o := range reg.All() {
		srv.Expose(o)
		require.NoError(t, transport.WriteDescriptor(sessionDir, o, ln.Addr().String()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(cancel)
}

func TestMirror_DiscoversAndPersistsNumericStream(t *testing.T) {
	sessionDir := t.TempDir()
	reg := outlet.New(discardLogger(), "")
	out, err := reg.Ensure("hr", "H10", 1, 1.0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)

	startExposureServer(t, sessionDir, reg)

	clock := clockwork.NewFakeClock()
	m, err := mirror.New(&mirror.Config{
		Logger:         discardLogger(),
		Clock:          clock,
		SessionDir:     sessionDir,
		Stdout:         io.Discard,
		DiscoverEvery:  time.Millisecond,
		PullSleep:      time.Millisecond,
		HeartbeatEvery: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, out.PushSample(1.0, []float64{70}))
	require.NoError(t, out.PushSample(2.0, []float64{71}))

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(sessionDir)
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".parquet" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not stop after cancel")
	}

	indexBody, err := os.ReadFile(filepath.Join(sessionDir, "session_index.json"))
	require.NoError(t, err)
	require.Contains(t, string(indexBody), "PB_HR_H10")

	_, err = os.Stat(filepath.Join(sessionDir, "session_end.json"))
	require.NoError(t, err)
}

func TestMirror_StringOutletStopMarkerDetected(t *testing.T) {
	sessionDir := t.TempDir()
	reg := outlet.New(discardLogger(), "")
	out, err := reg.Ensure("markers", "", 0, 0, outlet.String, "", nil)
	require.NoError(t, err)

	startExposureServer(t, sessionDir, reg)

	clock := clockwork.NewFakeClock()
	m, err := mirror.New(&mirror.Config{
		Logger:         discardLogger(),
		Clock:          clock,
		SessionDir:     sessionDir,
		Stdout:         io.Discard,
		DiscoverEvery:  time.Millisecond,
		PullSleep:      time.Millisecond,
		HeartbeatEvery: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	body, _ := json.Marshal(map[string]string{"label": "stop"})
	require.NoError(t, out.PushText(1.0, string(body)))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(sessionDir, "stop_markers.jsonl"))
		return err == nil && len(b) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not stop after cancel")
	}
}
