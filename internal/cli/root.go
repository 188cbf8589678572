// Package cli holds the devicelink cobra commands.
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/waabox/devicelink/internal/config"
	"github.com/waabox/devicelink/internal/logging"
)

// Options configures the root command. Zero values use the defaults.
type Options struct {
	ConfigPath string
	Version    string
	Out        io.Writer
	ErrOut     io.Writer
}

type runtimeState struct {
	configPath string
	logLevel   string
	version    string
	cfg        config.Config
	log        zerolog.Logger
	out        io.Writer
	errOut     io.Writer
}

type runtimeKey struct{}

// DefaultOptions returns Options for the real terminal and config path.
func DefaultOptions() Options {
	return Options{
		ConfigPath: config.DefaultConfigPath(),
		Version:    "dev",
		Out:        os.Stdout,
		ErrOut:     os.Stderr,
	}
}

// NewRootCommand builds the devicelink command tree. Without a subcommand it opens the UI.
func NewRootCommand(opts Options) *cobra.Command {
	rt := &runtimeState{configPath: opts.ConfigPath, version: opts.Version, out: opts.Out, errOut: opts.ErrOut}
	if rt.out == nil {
		rt.out = os.Stdout
	}
	if rt.errOut == nil {
		rt.errOut = os.Stderr
	}

	root := &cobra.Command{
		Use:           "devicelink",
		Short:         "Link a GitHub account through the device authorization flow",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			cfg, err := config.LoadFrom(rt.configPath)
			if err != nil {
				return err
			}
			if rt.logLevel != "" {
				cfg.Log.Level = rt.logLevel
			}
			rt.cfg = cfg
			rt.log = logging.NewWithWriter(rt.errOut, cfg.LogLevelOrDefault(), cfg.Log.Pretty)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, false, false)
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.SetOut(rt.out)
	root.SetErr(rt.errOut)
	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newUICommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newStatusCommand(),
		newDaemonCommand(),
		newVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}
