package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/config"
	"github.com/sweeney/devicecore/internal/gpio"
	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
	"github.com/sweeney/devicecore/internal/wifi"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the settings keys the configured board registers",
	Long: `List every settings key with its default value. No hardware is opened
and the settings store is not read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return printKeys(cmd.OutOrStdout(), cfg, logger)
	},
}

var printStateCmd = &cobra.Command{
	Use:   "print-state",
	Short: "Sample every input once, print the runtime JSON and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		hw, done, err := openHardware(cfg, logger, false, false)
		if err != nil {
			return err
		}
		defer done.close(logger)
		return printState(cmd.OutOrStdout(), cfg, hw, logger, time.Now)
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(printStateCmd)
}

func printKeys(w io.Writer, cfg *config.Config, logger *zap.Logger) error {
	hw := &hardware{driver: gpio.NewFakeDriver(), store: settings.NewMemoryStore()}
	if cfg.WiFi.Enabled {
		hw.radio = wifi.NewFakeRadio()
	}
	a, err := newApp(cfg, hw, logger, time.Now)
	if err != nil {
		return err
	}
	if a.wifi != nil {
		if err := a.wifi.BindSettings(a.settings); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tDEFAULT\tNAME")
	for _, e := range a.settings.Entries() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, e.Value, e.Name)
	}
	return tw.Flush()
}

// printState runs one pass over the board without connectivity or MQTT.
func printState(w io.Writer, cfg *config.Config, hw *hardware, logger *zap.Logger, now func() time.Time) error {
	a, err := newApp(cfg, hw, logger, now)
	if err != nil {
		return err
	}
	a.io.Begin()
	a.tick()
	_, err = w.Write(status.FormatJSON(a.status.Snapshot()))
	if err == nil {
		_, err = fmt.Fprintln(w)
	}
	return err
}
