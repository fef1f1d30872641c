package transport_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/outlet/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAutoExpose_WritesDescriptorForNewOutlet(t *testing.T) {
	sessionDir := t.TempDir()
	reg := outlet.New(discardLogger(), "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := transport.NewServer(discardLogger(), "test", ln)

	ctx, cancel := context.WithCancel(context.Background())
	go transport.AutoExpose(ctx, discardLogger(), srv, reg, sessionDir)
	t.Cleanup(cancel)

	_, err = reg.Ensure("hr", "H10", 1, 1.0, outlet.Float32, "bpm", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		descs, err := transport.ListDescriptors(sessionDir)
		return err == nil && len(descs) == 1
	}, time.Second, 5*time.Millisecond)
}
