package main

import (
	"fmt"
	"os"

	"github.com/Slach/logs-insights/pkg/cli"
	"github.com/Slach/logs-insights/pkg/logging"
	"github.com/Slach/logs-insights/pkg/types"
)

var version = "dev"

func main() {
	logging.InitConsoleStdErrLog()
	rootCmd := cli.NewRootCommand(&types.CLI{}, version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
