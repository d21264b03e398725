// Package commands implements the lthor CLI: device selection flags
// shared by every subcommand, plus the flash/check/test/pit commands
// themselves.
package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddiss/lthor/internal/config"
	"github.com/ddiss/lthor/internal/logging"
	"github.com/ddiss/lthor/internal/session"
	"github.com/ddiss/lthor/internal/transport"
)

// Device-selection flags, shared by every subcommand that opens a
// device. -b/--busid, --vendor-id, --product-id and --serial are the
// exact names the original tool used once its obsolete -d/--port flag
// was retired.
var (
	flagBusID     int
	flagVendorID  uint16
	flagProductID uint16
	flagSerial    string
	flagOdin      bool

	flagControlTimeoutMs int
	flagDataTimeoutMs    int
	flagLogLevel         string
	flagLogFormat        string
)

var rootCmd = &cobra.Command{
	Use:   "lthor",
	Short: "Flash Samsung/Tizen devices in download mode over USB",
	Long: `lthor uploads firmware images to a Samsung or Tizen device in
download mode, speaking either the Thor or the legacy Odin/Loke
protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; it is called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagBusID, "busid", "b", 0, "flash the device on the given USB bus id")
	rootCmd.PersistentFlags().Uint16Var(&flagVendorID, "vendor-id", transport.DefaultVID, "flash the device with the given vendor id")
	rootCmd.PersistentFlags().Uint16Var(&flagProductID, "product-id", transport.DefaultPID, "flash the device with the given product id")
	rootCmd.PersistentFlags().StringVar(&flagSerial, "serial", "", "flash the device with the given serial number")
	rootCmd.PersistentFlags().BoolVar(&flagOdin, "odin", false, "speak the legacy Odin/Loke protocol instead of Thor")

	rootCmd.PersistentFlags().IntVar(&flagControlTimeoutMs, "control-timeout-ms", 0, "control transfer timeout override, in milliseconds")
	rootCmd.PersistentFlags().IntVar(&flagDataTimeoutMs, "data-timeout-ms", 0, "data transfer timeout override, in milliseconds")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text, json")

	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(pitCmd)
}

// selector builds the transport.Selector the device-selection flags
// describe.
func selector() transport.Selector {
	return transport.Selector{
		VID:    flagVendorID,
		PID:    flagProductID,
		BusID:  flagBusID,
		Serial: flagSerial,
	}
}

// flavor returns the protocol flavor --odin selects.
func flavor() session.Flavor {
	if flagOdin {
		return session.Odin
	}
	return session.Thor
}

// setupLogger loads config.Defaults, applies any flag overrides on
// top, and builds the logger every subcommand logs through.
func setupLogger() (*slog.Logger, *config.Defaults, error) {
	defaults, err := config.LoadDefaults()
	if err != nil {
		return nil, nil, err
	}

	level := defaults.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	format := defaults.LogFormat
	if flagLogFormat != "" {
		format = flagLogFormat
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(level),
		Format: logging.ParseFormat(format),
	})
	return log, defaults, nil
}

// controlTimeout and dataTimeout apply the --control-timeout-ms/
// --data-timeout-ms overrides on top of defaults.
func controlTimeout(defaults *config.Defaults) time.Duration {
	if flagControlTimeoutMs > 0 {
		return time.Duration(flagControlTimeoutMs) * time.Millisecond
	}
	return defaults.ControlTimeout
}

func dataTimeout(defaults *config.Defaults) time.Duration {
	if flagDataTimeoutMs > 0 {
		return time.Duration(flagDataTimeoutMs) * time.Millisecond
	}
	return defaults.DataTimeout
}
