package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No config or logger needed.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scanner %s\n", Version)
		fmt.Printf("  Go:    %s\n", runtime.Version())
		fmt.Printf("  Built: %s\n", BuildTime)
	},
}
