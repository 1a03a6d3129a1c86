package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(w, Version)
			return
		}
		fmt.Fprintf(w, "solace %s (commit: %s, built: %s, %s %s/%s)\n",
			Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the version number only")
}

// VersionString is the version reported by /api/health, /api/status and
// the status of a local engine.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
