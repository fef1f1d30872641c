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
	"github.com/lijian-bjfu/physiobridge/internal/supervisor"
)

var (
	superviseDataDir    string
	superviseHBInterval float64
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Launch and monitor the polar, hkh, and mirror roles as subprocesses",
	RunE:  runSupervise,
}

func init() {
	superviseCmd.Flags().StringVar(&superviseDataDir, "data-dir", "", "parent directory for the generated session directory (required)")
	superviseCmd.Flags().Float64Var(&superviseHBInterval, "hb-interval", 2, "heartbeat interval in seconds")
	_ = superviseCmd.MarkFlagRequired("data-dir")
}

func runSupervise(cmd *cobra.Command, args []string) error {
	log := logging.New(os.Stdout, logging.ParseLevel(logLevel), false)

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	sup, err := supervisor.New(&supervisor.Config{
		Logger:         log,
		BinaryPath:     binary,
		DataDir:        superviseDataDir,
		Stdout:         os.Stdout,
		HeartbeatEvery: time.Duration(superviseHBInterval * float64(time.Second)),
	})
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr, err := metricsserver.Start(ctx, log, metricsAddr); err != nil {
		log.Warn("metrics server failed to start", "error", err)
	} else {
		log.Info("metrics server listening", "address", addr)
	}

	return sup.Run(ctx)
}
