package main

import (
	"fmt"
	"os"

	"github.com/waabox/devicelink/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	opts := cli.DefaultOptions()
	opts.Version = version
	if err := cli.NewRootCommand(opts).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "devicelink: %v\n", err)
		os.Exit(1)
	}
}
