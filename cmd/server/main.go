package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sheetviz",
		Short: "Excel upload and decode service",
		Long: `sheetviz accepts Excel workbooks over HTTP, decodes them in the
background and serves the decoded sheets to the visualization frontend.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to the YAML config file")

	rootCmd.AddCommand(
		newServeCmd(),
		newDecodeCmd(),
		newUploadCmd(),
		newUserCmd(),
		newTokenCmd(),
	)

	return rootCmd
}

// defaultConfigPath places the config next to the executable.
func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "sheetviz.yaml"
	}
	return filepath.Join(filepath.Dir(exePath), "sheetviz.yaml")
}
