// Package cli is the mrf24w-host command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"mrf24w/config"
	"mrf24w/host/serial"
	"mrf24w/host/session"
)

// app carries the settings shared by every command.
type app struct {
	configPath string
	envFile    string

	device   string
	baud     int
	sim      bool
	logLevel string
	logPort  string
	traceDB  string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "mrf24w-host",
		Short: "Drive an MRF24W WiFi co-processor through the SPI bridge.",
		Long: `mrf24w-host talks to an MRF24W over an rp2040 SPI bridge on a ` +
			`serial port, or to the built-in simulator with --sim. Settings ` +
			`come from --config, then .env and MRF24W_* variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "JSON config file")
	f.StringVar(&a.envFile, "env", ".env", "dotenv file with MRF24W_* overrides")
	f.StringVarP(&a.device, "device", "d", "", "bridge serial device")
	f.IntVar(&a.baud, "baud", 0, "bridge baud rate (ignored by USB CDC)")
	f.BoolVar(&a.sim, "sim", false, "use the simulated co-processor")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&a.logPort, "log-port", "", "write logs to this UART instead of stderr")
	f.StringVar(&a.traceDB, "trace", "", "record management transactions to this sqlite file")

	root.AddCommand(
		newVersionCmd(a),
		newStatusCmd(a),
		newConnectCmd(a),
		newParamCmd(a),
		newMonitorCmd(a),
		newShellCmd(a),
	)
	return root
}

// setup loads the config and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Device = a.device
	}
	if f.Changed("baud") {
		cfg.Baud = a.baud
	}
	if f.Changed("sim") {
		cfg.Sim = a.sim
	}
	if f.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if f.Changed("log-port") {
		cfg.LogPort = a.logPort
	}
	if f.Changed("trace") {
		cfg.TraceDB = a.traceDB
	}
	if err := cfg.Validate(); err != nil && cmd.Name() != "version" {
		return err
	}
	a.cfg = cfg

	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = cmd.ErrOrStderr()
	if cfg.LogPort != "" {
		port, err := serial.OpenLog(cfg.LogPort, cfg.LogBaud)
		if err != nil {
			return err
		}
		atexit.Register(func() { port.Close() })
		w = port
	}
	a.log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) open() (*session.Session, error) {
	return session.Open(a.cfg, session.Options{Logger: a.log})
}

// Execute runs the command line and returns the exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
