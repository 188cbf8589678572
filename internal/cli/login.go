package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/waabox/devicelink/internal/authstate"
	"github.com/waabox/devicelink/internal/domain"
)

func newLoginCommand() *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in without the UI, printing the code to enter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.login(cmd.Context(), background)
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "Let the daemon poll; interrupting login leaves it running")

	return cmd
}

func (rt *runtimeState) newSpinner() (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           "requesting device code",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            rt.errOut,
	})
}

func (rt *runtimeState) login(ctx context.Context, background bool) error {
	spinner, err := rt.newSpinner()
	if err != nil {
		return fmt.Errorf("creating spinner: %w", err)
	}

	notifier := authstate.NotifierFunc(func(s domain.DeviceFlowSession) {
		_ = spinner.Pause()
		fmt.Fprintf(rt.errOut, "Visit:      %s\n", s.VerificationURI)
		fmt.Fprintf(rt.errOut, "Enter code: %s\n", s.UserCode)
		spinner.Message("waiting for authorization")
		_ = spinner.Unpause()
	})

	if !background {
		// Interrupting a local login cancels polling. In the background the daemon keeps going.
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
	}

	s, err := rt.newSession(ctx, background, notifier)
	if err != nil {
		return err
	}
	defer s.close()

	if err := spinner.Start(); err != nil {
		return fmt.Errorf("starting spinner: %w", err)
	}
	connectErr := s.machine.Connect(ctx)
	state := s.machine.State()

	if state.Status == domain.StatusConnected && state.User != nil {
		spinner.StopMessage(fmt.Sprintf("signed in as %s (@%s)", state.User.DisplayName(), state.User.Login))
		return spinner.Stop()
	}
	msg := state.Err
	if msg == "" {
		msg = "sign-in cancelled"
	}
	spinner.StopFailMessage(msg)
	_ = spinner.StopFail()
	if connectErr == nil {
		connectErr = errors.New(msg)
	}
	return connectErr
}
