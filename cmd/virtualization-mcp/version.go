package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version, GitCommit and BuildTime are set at release time via
//   -ldflags "-X main.Version=... -X main.GitCommit=... -X main.BuildTime=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("virtualization-mcp %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
