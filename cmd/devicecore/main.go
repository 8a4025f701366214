// Command devicecore runs the controller: pin I/O with gesture detection,
// threshold alarms and WiFi connectivity management, published over HTTP
// and MQTT.
//
// Usage:
//
//	devicecore run -c board.yaml     # Start the controller
//	devicecore keys -c board.yaml    # List settings keys for the board
//	devicecore print-state -c board.yaml
//	devicecore version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/config"
	"github.com/sweeney/devicecore/internal/logging"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "devicecore",
	Short: "Embedded controller runtime",
	Long: `devicecore drives digital and analog pins, classifies button gestures,
evaluates threshold alarms and keeps the WiFi link up.

Configuration comes from a YAML file (--config or CONFIG_FILE), a .env
file and DEVICECORE_* environment variables.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "devicecore %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration and builds the logger named by it.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
