package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/lijian-bjfu/physiobridge/internal/ingress/serial"
	"github.com/lijian-bjfu/physiobridge/internal/logging"
	"github.com/lijian-bjfu/physiobridge/internal/metricsserver"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/outlet/transport"
)

var (
	hkhSessionDir string
	hkhUnderHub   bool
	hkhHBInterval float64
	hkhBaud       int
	hkhPortsCSV   string
)

var hkhCmd = &cobra.Command{
	Use:   "hkh",
	Short: "Run the HKH-11C respiration belt serial ingress worker",
	RunE:  runHKH,
}

func init() {
	hkhCmd.Flags().StringVar(&hkhSessionDir, "session-dir", "", "session directory shared with the mirror recorder (required)")
	hkhCmd.Flags().BoolVar(&hkhUnderHub, "under-hub", false, "suppress human-readable heartbeat logs in favor of the machine heartbeat line")
	hkhCmd.Flags().Float64Var(&hkhHBInterval, "hb-interval", 2, "heartbeat interval in seconds")
	hkhCmd.Flags().IntVar(&hkhBaud, "baud", serial.DefaultBaudRate, "serial baud rate")
	hkhCmd.Flags().StringVar(&hkhPortsCSV, "ports", strings.Join(serial.DefaultCandidatePorts, ","), "comma-separated candidate serial port names, tried in order")
	_ = hkhCmd.MarkFlagRequired("session-dir")
}

func runHKH(cmd *cobra.Command, args []string) error {
	log := logging.New(os.Stdout, logging.ParseLevel(logLevel), false)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr, err := metricsserver.Start(ctx, log, metricsAddr); err != nil {
		log.Warn("metrics server failed to start", "error", err)
	} else {
		log.Info("metrics server listening", "address", addr)
	}

	candidates := splitCSV(hkhPortsCSV)
	port, portName, err := serial.OpenCandidate(ctx, log, candidates, hkhBaud)
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	log.Info("opened serial port", "port", portName)

	previewDir := hkhSessionDir
	if err := os.MkdirAll(previewDir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	previewFile, err := os.Create(filepath.Join(previewDir, fmt.Sprintf("preview_%d.csv", time.Now().Unix())))
	if err != nil {
		return fmt.Errorf("create preview csv: %w", err)
	}
	defer previewFile.Close()

	registry := outlet.New(log, "")
	worker, err := serial.New(&serial.Config{
		Logger:         log,
		Clock:          clockwork.NewRealClock(),
		Port:           port,
		Registry:       registry,
		PreviewCSV:     previewFile,
		Stdout:         os.Stdout,
		HeartbeatEvery: time.Duration(hkhHBInterval * float64(time.Second)),
		UnderHub:       hkhUnderHub,
	})
	if err != nil {
		return fmt.Errorf("create hkh worker: %w", err)
	}

	exposureListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen exposure server: %w", err)
	}
	srv := transport.NewServer(log, "hkh", exposureListener)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Warn("exposure server stopped", "error", err)
		}
	}()
	go transport.AutoExpose(ctx, log, srv, registry, hkhSessionDir)

	return worker.Run(ctx)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
