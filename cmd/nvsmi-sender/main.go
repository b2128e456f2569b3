package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skobkin/nvsmi-sender/internal/version"
)

// Build metadata, set at build time with -ldflags.
var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

var rootCmd = &cobra.Command{
	Use:           "nvsmi-sender",
	Short:         "Streams NVIDIA GPU telemetry to a VictoriaMetrics backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nvsmi-sender %s\n", buildVersion)
		if buildCommit != "" {
			fmt.Printf("Commit: %s\n", buildCommit)
		}
		if buildTime != "" {
			fmt.Printf("Built: %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})
	rootCmd.Version = buildVersion

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
