package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored GitHub token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			m, err := rt.newLocalMachine()
			if err != nil {
				return err
			}
			if err := m.Disconnect(); err != nil {
				return fmt.Errorf("removing token: %w", err)
			}
			_, _ = fmt.Fprintln(rt.out, "Signed out.")
			return nil
		},
	}
}
