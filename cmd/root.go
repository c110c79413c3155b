// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/link"
	"firestige.xyz/bmcam/internal/log"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitBusy    = 2
	ExitConfig  = 3
	ExitMissing = 4
)

// errConfig marks configuration failures.
var errConfig = errors.New("configuration error")

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bmcam",
	Short: "bmcam - camera agent for a Bristlemouth serial bridge",
	Long: `bmcam runs on a small Linux host wired to a Bristlemouth bridge over a serial
port. It answers camera triggers published on the bus, keeps the system clock
in step with the bridge, and streams captured media back as chunked text.

Features:
  - COBS framed publish/subscribe over the serial link
  - Duplicate suppression for retransmitted triggers
  - Still and video capture under an exclusive camera lock
  - Chunked file transfer with loss-tolerant reassembly`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default $"+config.EnvConfigPath+", else built-in defaults)")

	// Add subcommands
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(reassembleCmd)
	rootCmd.AddCommand(configCmd)
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, link.ErrDeviceBusy):
		return ExitBusy
	case errors.Is(err, errConfig):
		return ExitConfig
	case errors.Is(err, link.ErrDeviceMissing):
		return ExitMissing
	default:
		return ExitFailure
	}
}

// loadConfig loads and validates the configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("%w: init logging: %w", errConfig, err)
	}
	return cfg, nil
}

// openNode opens the serial link and returns a bus identity writing to it.
func openNode(cfg *config.Config) (*link.Transport, *link.Node, error) {
	t, err := link.Open(cfg.Link)
	if err != nil {
		var oe *link.OpenError
		if errors.As(err, &oe) {
			fmt.Fprintln(os.Stderr, oe.Describe())
		}
		return nil, nil, err
	}
	node := link.NewNode(t, cfg.Node.NodeID,
		nodeVersion(cfg),
		link.SpotterTopics{Transmit: cfg.Topics.Transmit, Print: cfg.Topics.Print, FileLog: cfg.Topics.FileLog})
	return t, node, nil
}
