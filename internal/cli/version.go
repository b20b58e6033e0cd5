package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/instanttrade/itnd/internal/core/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		h := version.NetworkHistory()
		current := "unknown"
		if v, ok := h.Latest(); ok {
			current = v.Version
		}
		fmt.Printf("itnd network version %s\n", current)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Export the network version history as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return version.NetworkHistory().Export(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(versionsCmd)
}
