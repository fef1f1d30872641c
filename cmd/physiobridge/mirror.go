package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lijian-bjfu/physiobridge/internal/logging"
	"github.com/lijian-bjfu/physiobridge/internal/metricsserver"
	"github.com/lijian-bjfu/physiobridge/internal/mirror"
)

var (
	mirrorSessionDir string
	mirrorUnderHub   bool
	mirrorHBInterval float64
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Run the mirror recorder, persisting every discovered outlet to disk",
	RunE:  runMirror,
}

func init() {
	mirrorCmd.Flags().StringVar(&mirrorSessionDir, "session-dir", "", "session directory to watch for outlet descriptors and write files into (required)")
	mirrorCmd.Flags().BoolVar(&mirrorUnderHub, "under-hub", false, "suppress human-readable heartbeat logs in favor of the machine heartbeat line")
	mirrorCmd.Flags().Float64Var(&mirrorHBInterval, "hb-interval", 2, "heartbeat interval in seconds")
	_ = mirrorCmd.MarkFlagRequired("session-dir")
}

func runMirror(cmd *cobra.Command, args []string) error {
	log := logging.New(os.Stdout, logging.ParseLevel(logLevel), false)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr, err := metricsserver.Start(ctx, log, metricsAddr); err != nil {
		log.Warn("metrics server failed to start", "error", err)
	} else {
		log.Info("metrics server listening", "address", addr)
	}

	m, err := mirror.New(&mirror.Config{
		Logger:         log,
		SessionDir:     mirrorSessionDir,
		Stdout:         os.Stdout,
		HeartbeatEvery: time.Duration(mirrorHBInterval * float64(time.Second)),
		UnderHub:       mirrorUnderHub,
	})
	if err != nil {
		return fmt.Errorf("create mirror: %w", err)
	}

	return m.Run(ctx)
}
