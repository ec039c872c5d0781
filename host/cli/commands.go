package cli

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mrf24w/core"
	"mrf24w/host/session"
	"mrf24w/monitor"
	"mrf24w/protocol"
)

func newVersionCmd(a *app) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the tool version, and with --probe the bridge and chip versions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mrf24w-host %s\n", protocol.Version)
			if !probe {
				return nil
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			if s.Bridge != nil {
				fmt.Fprintf(out, "bridge %s\n", s.Bridge.Version())
			} else {
				fmt.Fprintln(out, "bridge simulated")
			}
			rom, patch, err := s.Driver.SystemVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "firmware rom %#02x patch %#02x\n", rom, patch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "open the device and read its versions")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Bring the chip up and print the driver and connection state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			return printStatus(cmd.OutOrStdout(), s.Driver)
		},
	}
}

func printStatus(w io.Writer, drv *core.Driver) error {
	st, err := drv.CheckConnectionState()
	if err != nil {
		return err
	}
	s := drv.Status()
	fmt.Fprintf(w, "connection:   %s\n", st)
	fmt.Fprintf(w, "connected:    %t (link %t)\n", s.Connected, s.LinkUp)
	fmt.Fprintf(w, "transaction:  %s\n", s.Transaction)
	fmt.Fprintf(w, "power save:   %s (active %t, requested %t)\n", s.PowerSave, s.PsPollActive, s.AppWantsPowerSave)
	for i, win := range s.Windows {
		fmt.Fprintf(w, "window %-5s %s ready=%t size=%d saved=%t\n", win.ID, win.State, win.Ready, win.Size, s.Saved[i])
	}
	if s.Fault != nil {
		fmt.Fprintf(w, "fault:        %v\n", s.Fault)
	}
	return nil
}

// connectAndWait starts a connection and steps the driver until the
// co-processor reports it connected or timeout passes.
func connectAndWait(s *session.Session, profile uint8, timeout time.Duration) (core.ConnectionState, error) {
	if err := s.Driver.Connect(profile); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(timeout)
	for {
		if err := s.Step(); err != nil {
			return 0, err
		}
		st, err := s.Driver.CheckConnectionState()
		if err != nil {
			return 0, err
		}
		switch st {
		case core.ConnConnectedInfrastructure, core.ConnConnectedAdHoc:
			return st, nil
		case core.ConnNotConnected, core.ConnConnectionPermanentlyLost:
			return st, fmt.Errorf("connection profile %d: %s", profile, st)
		}
		if time.Now().After(deadline) {
			return st, fmt.Errorf("connection profile %d: still %s after %v", profile, st, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func newConnectCmd(a *app) *cobra.Command {
	var (
		wait time.Duration
		hold bool
	)
	cmd := &cobra.Command{
		Use:   "connect [profile]",
		Short: "Connect with a stored connection profile and apply the power-save setting.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := a.cfg.Profile
			if len(args) == 1 {
				n, err := strconv.ParseUint(args[0], 10, 8)
				if err != nil {
					return fmt.Errorf("profile: %w", err)
				}
				profile = uint8(n)
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			st, err := connectAndWait(s, profile, wait)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", st)
			if err := s.ApplyPowerSave(a.cfg.PowerSave); err != nil {
				return err
			}
			if !hold {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go logEvents(ctx, a, s)
			return s.Run(ctx, 10*time.Millisecond)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the link")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the link up until interrupted")
	return cmd
}

func logEvents(ctx context.Context, a *app, s *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.Events():
			a.log.Info("event", "subtype", ev.Subtype.String(), "data", fmt.Sprintf("% x", ev.Data))
		}
	}
}

func newMonitorCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the driver state and controls over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.Listen = listen
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			m := monitor.New(s.Driver, a.log)
			if s.Trace != nil {
				m.WithTraces(s.Trace)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go logEvents(ctx, a, s)
			go s.Run(ctx, 10*time.Millisecond)
			return m.Serve(ctx, a.cfg.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to serve on")
	return cmd
}

func paramByName(name string) (core.ParamID, bool) {
	for _, p := range []core.ParamID{
		core.ParamMACAddress, core.ParamRegionalDomain, core.ParamRTSThreshold,
		core.ParamConfirmDataTx, core.ParamSystemVersion, core.ParamLinkDownThreshold,
	} {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}

func formatParam(id core.ParamID, b []byte) string {
	switch {
	case id == core.ParamMACAddress:
		return net.HardwareAddr(b).String()
	case id == core.ParamSystemVersion:
		return fmt.Sprintf("rom %#02x patch %#02x", b[0], b[1])
	case len(b) == 2:
		return strconv.Itoa(int(binary.BigEndian.Uint16(b)))
	default:
		return strconv.Itoa(int(b[0]))
	}
}

func parseParam(id core.ParamID, s string) ([]byte, error) {
	if id == core.ParamMACAddress {
		return net.ParseMAC(s)
	}
	size, _ := core.ParamSize(id)
	n, err := strconv.ParseUint(s, 0, size*8)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b[2-size:], nil
}

func getParam(drv *core.Driver, name string) (string, error) {
	id, ok := paramByName(name)
	if !ok {
		return "", fmt.Errorf("unknown parameter %q", name)
	}
	size, _ := core.ParamSize(id)
	b := make([]byte, size)
	if err := drv.GetParam(id, b); err != nil {
		return "", err
	}
	return formatParam(id, b), nil
}

func setParam(drv *core.Driver, name, value string) error {
	id, ok := paramByName(name)
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	b, err := parseParam(id, value)
	if err != nil {
		return err
	}
	return drv.SetParam(id, b)
}

func newParamCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "param",
		Short: "Read or write co-processor firmware parameters.",
		Long: "Parameters: mac_address, regional_domain, rts_threshold, " +
			"confirm_data_tx, system_version, link_down_threshold.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Read a parameter.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := getParam(s.Driver, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}, &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Write a parameter.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			return setParam(s.Driver, args[0], args[1])
		},
	})
	return cmd
}
