package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/bmcam/internal/config"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Long: `Validate the configuration file without opening the serial device, then
print the merged settings (file, BMCAM_* environment and defaults) as YAML.

Examples:
  bmcam config validate -c /etc/bmcam/config.yml
  BMCAM_LINK_DEVICE=/dev/ttyUSB0 bmcam config validate`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(config.ResolvePath(configFile), cmd.OutOrStdout())
	},
}

func init() {
	configCmd.AddCommand(validateCmd)
}

func runValidate(path string, out io.Writer) error {
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	data, err := config.Dump(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	source := path
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "VALID: %s\n", source)
	_, err = out.Write(data)
	return err
}
