package cli

import (
	"github.com/spf13/cobra"

	"github.com/waabox/devicelink/internal/tui"
)

func newUICommand() *cobra.Command {
	var background, autoCopy bool

	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Open the interactive account screen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, background, autoCopy)
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "Let the daemon poll, so sign-in survives closing the UI")
	cmd.Flags().BoolVar(&autoCopy, "copy", false, "Copy each new user code to the clipboard")

	return cmd
}

func runUI(cmd *cobra.Command, background, autoCopy bool) error {
	rt, err := getRuntime(cmd)
	if err != nil {
		return err
	}
	relay := &tui.Relay{}
	s, err := rt.newSession(cmd.Context(), background, relay)
	if err != nil {
		return err
	}
	defer s.close()

	err = tui.Run(s.machine, relay, autoCopy)
	if !background {
		// Local polling ends with the UI.
		s.machine.Cancel()
	}
	return err
}
