package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/lijian-bjfu/physiobridge/internal/clocksync"
	"github.com/lijian-bjfu/physiobridge/internal/ingress/udp"
	"github.com/lijian-bjfu/physiobridge/internal/logging"
	"github.com/lijian-bjfu/physiobridge/internal/metricsserver"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/outlet/transport"
	"github.com/lijian-bjfu/physiobridge/internal/pingpong"
	"github.com/lijian-bjfu/physiobridge/internal/streammetrics"
)

var (
	polarSessionDir string
	polarUnderHub   bool
	polarHBInterval float64
)

var polarCmd = &cobra.Command{
	Use:   "polar",
	Short: "Run the Polar UDP ingress worker",
	RunE:  runPolar,
}

func init() {
	polarCmd.Flags().StringVar(&polarSessionDir, "session-dir", "", "session directory shared with the mirror recorder (required)")
	polarCmd.Flags().BoolVar(&polarUnderHub, "under-hub", false, "suppress human-readable heartbeat logs in favor of the machine heartbeat line")
	polarCmd.Flags().Float64Var(&polarHBInterval, "hb-interval", 5, "heartbeat interval in seconds")
	_ = polarCmd.MarkFlagRequired("session-dir")
}

func runPolar(cmd *cobra.Command, args []string) error {
	log := logging.New(os.Stdout, logging.ParseLevel(logLevel), false)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr, err := metricsserver.Start(ctx, log, metricsAddr); err != nil {
		log.Warn("metrics server failed to start", "error", err)
	} else {
		log.Info("metrics server listening", "address", addr)
	}

	logsDir := filepath.Join(polarSessionDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	rawFile, err := os.Create(filepath.Join(logsDir, "udp_raw.jsonl.zst"))
	if err != nil {
		return fmt.Errorf("create raw log file: %w", err)
	}
	defer rawFile.Close()
	rawZ, err := zstd.NewWriter(rawFile)
	if err != nil {
		return fmt.Errorf("create raw log compressor: %w", err)
	}
	defer rawZ.Close()

	metricsLogFile, err := os.Create(filepath.Join(logsDir, "polar_metrics.jsonl"))
	if err != nil {
		return fmt.Errorf("create metrics log file: %w", err)
	}
	defer metricsLogFile.Close()

	conn, err := udp.Listen()
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}

	registry := outlet.New(log, "")
	metrics := streammetrics.New()
	sync := clocksync.New(log)
	pp := pingpong.New(log, clockwork.NewRealClock(), conn)

	worker, err := udp.New(&udp.Config{
		Logger:         log,
		Conn:           conn,
		Registry:       registry,
		Metrics:        metrics,
		ClockSync:      sync,
		PingPong:       pp,
		RawLog:         rawZ,
		MetricsLog:     metricsLogFile,
		Stdout:         os.Stdout,
		HeartbeatEvery: time.Duration(polarHBInterval * float64(time.Second)),
		UnderHub:       polarUnderHub,
	})
	if err != nil {
		return fmt.Errorf("create polar worker: %w", err)
	}

	exposureListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen exposure server: %w", err)
	}
	srv := transport.NewServer(log, "polar", exposureListener)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Warn("exposure server stopped", "error", err)
		}
	}()
	go transport.AutoExpose(ctx, log, srv, registry, polarSessionDir)

	return worker.Run(ctx)
}
