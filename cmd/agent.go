package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/daemon"
	"firestige.xyz/bmcam/internal/protocol"
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the bus agent in foreground",
	Long: `Run the bmcam agent in foreground.

The agent will:
  1. Load configuration and initialize logging
  2. Open the serial device exclusively (exit 2 if busy, 4 if missing)
  3. Subscribe the clock, camera and hello topics
  4. Route inbound publishes until SIGINT or SIGTERM`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyLinkFlags(cmd, cfg)
		return runAgent(cmd, cfg)
	},
}

var (
	agentDevice string
	agentBaud   int
)

func init() {
	agentCmd.Flags().StringVarP(&agentDevice, "device", "d", "", "serial device (overrides link.device)")
	agentCmd.Flags().IntVarP(&agentBaud, "baud", "b", 0, "baud rate (overrides link.baud_rate)")
}

func applyLinkFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("device") {
		cfg.Link.Device = agentDevice
	}
	if cmd.Flags().Changed("baud") {
		cfg.Link.BaudRate = agentBaud
	}
}

func runAgent(cmd *cobra.Command, cfg *config.Config) error {
	d := daemon.New(cfg)

	// Start all components
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run(cmd.Context())
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running agent",
	Long: `Stop a running agent gracefully.

This command sends SIGTERM to the process recorded in daemon.pid_file and
waits for it to exit. The agent flushes partial transfers before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pidFile := cfg.Daemon.PIDFile
		if cmd.Flags().Changed("pidfile") {
			pidFile = stopPIDFile
		}
		if pidFile == "" {
			return fmt.Errorf("%w: no PID file configured (daemon.pid_file or --pidfile)", errConfig)
		}
		if err := daemon.StopRunning(pidFile, stopTimeout); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "agent stopped")
		return nil
	},
}

var (
	stopPIDFile string
	stopTimeout time.Duration
)

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file path (overrides daemon.pid_file)")
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 10*time.Second, "how long to wait for exit")
}

func nodeVersion(cfg *config.Config) protocol.Version {
	return protocol.Version{Major: cfg.Node.VersionMajor, Minor: cfg.Node.VersionMinor}
}
