package udp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/clocksync"
	"github.com/lijian-bjfu/physiobridge/internal/ingress/udp"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/pingpong"
	"github.com/lijian-bjfu/physiobridge/internal/streammetrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustListen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return conn
}

func TestWorker_MarkerAndDataRouting(t *testing.T) {
	conn := mustListen(t)
	reg := outlet.New(discardLogger(), "")
	metrics := streammetrics.New()
	clockSync := clocksync.New(discardLogger())
	pp := pingpong.New(discardLogger(), clockwork.NewRealClock(), conn)
	defer pp.Close()

	var stdout, rawLog bytes.Buffer
	w, err := udp.New(&udp.Config{
		Logger:      discardLogger(),
		Conn:        conn,
		Registry:    reg,
		Metrics:     metrics,
		ClockSync:   clockSync,
		PingPong:    pp,
		RawLog:      &rawLog,
		Stdout:      &stdout,
		ReadTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	sender, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	marker, _ := json.Marshal(map[string]any{"type": "marker", "label": "trial_start"})
	_, err = sender.Write(marker)
	require.NoError(t, err)

	hr, _ := json.Marshal(map[string]any{"type": "hr", "device": "H10", "bpm": 70.0})
	_, err = sender.Write(hr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(reg.All()) >= 3 // PB_UDP, PB_MARKERS, PB_HR_H10
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	require.Contains(t, stdout.String(), "READY")
	require.NotZero(t, rawLog.Len())
}

func TestWorker_RequiresDependencies(t *testing.T) {
	conn := mustListen(t)
	defer conn.Close()
	_, err := udp.New(&udp.Config{Logger: discardLogger(), Conn: conn})
	require.Error(t, err)
}
