package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mrf24w/config"
	"mrf24w/host/session"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session; the driver keeps running between commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			s.OnFrame(func(b []byte) {
				fmt.Fprintf(out, "rx %d bytes: % x\n", len(b), b)
			})
			go logEvents(ctx, a, s)
			go s.Run(ctx, 10*time.Millisecond)
			return runShell(cmd.InOrStdin(), out, s)
		},
	}
}

func runShell(in io.Reader, out io.Writer, s *session.Session) error {
	fmt.Fprintln(out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		if parts[0] == "quit" || parts[0] == "exit" || parts[0] == "q" {
			return nil
		}
		if err := shellCommand(out, s, parts[0], parts[1:]); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

var errUsage = errors.New("bad arguments (type 'help')")

func shellCommand(out io.Writer, s *session.Session, cmd string, args []string) error {
	drv := s.Driver
	switch cmd {
	case "help", "?":
		printHelp(out)
	case "status":
		return printStatus(out, drv)
	case "connect":
		profile := uint64(1)
		if len(args) > 0 {
			var err error
			if profile, err = strconv.ParseUint(args[0], 10, 8); err != nil {
				return err
			}
		}
		st, err := connectAndWait(s, uint8(profile), 10*time.Second)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, st)
	case "disconnect":
		return drv.Disconnect()
	case "ps":
		if len(args) != 1 {
			return errUsage
		}
		if err := s.ApplyPowerSave(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, drv.PowerSaveState())
	case "get":
		if len(args) != 1 {
			return errUsage
		}
		v, err := getParam(drv, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
	case "set":
		if len(args) != 2 {
			return errUsage
		}
		return setParam(drv, args[0], args[1])
	case "send":
		if len(args) != 1 {
			return errUsage
		}
		b, err := hex.DecodeString(strings.ReplaceAll(args[0], ":", ""))
		if err != nil {
			return err
		}
		if err := drv.SendDataFrame(b); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %d bytes\n", len(b))
	case "history":
		for _, rec := range drv.Status().RawHistory {
			fmt.Fprintln(out, rec)
		}
	case "reset":
		return drv.Reset()
	case "hibernate":
		return drv.Hibernate()
	case "inject":
		// Simulator only: queue a received frame.
		if s.Sim == nil {
			return errors.New("inject needs --sim")
		}
		if len(args) != 1 {
			return errUsage
		}
		b, err := hex.DecodeString(args[0])
		if err != nil {
			return err
		}
		s.Sim.InjectDataFrame(b)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	fmt.Fprintln(out, "  status              - Driver and connection state")
	fmt.Fprintln(out, "  connect [profile]   - Connect with a stored profile (default 1)")
	fmt.Fprintln(out, "  disconnect          - Drop the link")
	fmt.Fprintf(out, "  ps <mode>           - Power save: %s, %s or %s\n", config.PowerSaveOff, config.PowerSaveDTIM, config.PowerSaveNoDTIM)
	fmt.Fprintln(out, "  get <param>         - Read a firmware parameter")
	fmt.Fprintln(out, "  set <param> <value> - Write a firmware parameter")
	fmt.Fprintln(out, "  send <hex>          - Send a data frame")
	fmt.Fprintln(out, "  history             - Recent RAW moves")
	fmt.Fprintln(out, "  reset               - Reset the chip and clear faults")
	fmt.Fprintln(out, "  hibernate           - Power the chip down")
	fmt.Fprintln(out, "  inject <hex>        - Queue a received frame (simulator)")
	fmt.Fprintln(out, "  quit/exit/q         - Exit")
	fmt.Fprintln(out)
}
