package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show devicelink version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			info := versionInfo{
				Version:   rt.version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			switch outputFormat {
			case "json":
				encoder := json.NewEncoder(rt.out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(info)
			case "":
				_, _ = fmt.Fprintf(rt.out, "devicelink %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
				return nil
			default:
				return fmt.Errorf("unknown output format %q", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json")

	return cmd
}
