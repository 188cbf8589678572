package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/devicelink/internal/bridge"
	"github.com/waabox/devicelink/internal/domain"
)

const statusTimeout = 20 * time.Second

type statusReport struct {
	Status        domain.AuthStatus         `json:"status"`
	User          *domain.AuthenticatedUser `json:"user,omitempty"`
	Error         string                    `json:"error,omitempty"`
	Offline       bool                      `json:"offline,omitempty"`
	DaemonPolling *bool                     `json:"daemon_polling,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var (
		outputFormat string
		daemon       bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the stored GitHub token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			m, err := rt.newLocalMachine()
			if err != nil {
				return err
			}

			var report statusReport
			if daemon {
				client, err := bridge.Dial(ctx, rt.cfg.SocketPathOrDefault(), rt.log)
				if err != nil {
					return err
				}
				defer client.Close()
				rt.adoptHeldResults(ctx, client, m)
				// Held events precede the reply on the stream, so they are adopted by now.
				st, err := client.Status(ctx)
				if err != nil {
					return fmt.Errorf("querying daemon: %w", err)
				}
				report.DaemonPolling = &st.Polling
			}

			if m.State().Status != domain.StatusConnected {
				// A validation failure is part of the report, not a command error.
				_ = m.CheckValidity(ctx)
			}
			state := m.State()
			report.Status, report.User, report.Error, report.Offline = state.Status, state.User, state.Err, state.Offline

			switch outputFormat {
			case "json":
				encoder := json.NewEncoder(rt.out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(report)
			case "":
				writeStatus(rt, report)
				return nil
			default:
				return fmt.Errorf("unknown output format %q", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Also ask the daemon whether it is polling")

	return cmd
}

func writeStatus(rt *runtimeState, r statusReport) {
	switch r.Status {
	case domain.StatusConnected:
		_, _ = fmt.Fprintf(rt.out, "Connected as %s (@%s)\n", r.User.DisplayName(), r.User.Login)
	case domain.StatusInvalid:
		_, _ = fmt.Fprintln(rt.out, "Token rejected by GitHub. Run `devicelink login` again.")
	default:
		if r.Offline {
			_, _ = fmt.Fprintln(rt.out, "Not connected (offline).")
		} else {
			_, _ = fmt.Fprintln(rt.out, "Not connected.")
		}
	}
	if r.Error != "" && r.Status != domain.StatusInvalid {
		_, _ = fmt.Fprintln(rt.out, r.Error)
	}
	if r.DaemonPolling != nil {
		if *r.DaemonPolling {
			_, _ = fmt.Fprintln(rt.out, "Daemon: waiting for authorization")
		} else {
			_, _ = fmt.Fprintln(rt.out, "Daemon: idle")
		}
	}
}
