// Command physiobridge ingests Polar sensor UDP packets and HKH-11C
// respiration-belt serial frames, synchronizes their clocks against host
// time, and mirrors every discovered stream to columnar files on disk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "physiobridge",
	Short: "Multi-source physiological telemetry bridge",
	Long: `physiobridge ingests a Polar wireless sensor over UDP and an HKH-11C
respiration belt over serial, synchronizes their clocks against host time,
and mirrors every discovered outlet to disk as columnar files.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:0", "address to bind the prometheus /metrics endpoint to")

	rootCmd.AddCommand(polarCmd)
	rootCmd.AddCommand(hkhCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(superviseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
