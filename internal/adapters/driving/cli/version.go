package cli

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionShort bool

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dixel version and build details",
	Run: func(cmd *cobra.Command, _ []string) {
		if versionShort {
			cmd.Println(version)
			return
		}
		cmd.Printf("dixel %s\n", version)
		cmd.Printf("  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		for _, b := range buildDetails() {
			cmd.Printf("  %-9s %s\n", b[0]+":", b[1])
		}
	},
}

// buildDetails returns the VCS revision and commit time stamped by the
// toolchain, if any.
func buildDetails() [][2]string {
	info, ok := readBuildInfo()
	if !ok {
		return nil
	}
	var out [][2]string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev := s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
			out = append(out, [2]string{"revision", rev})
		case "vcs.time":
			out = append(out, [2]string{"built", s.Value})
		case "vcs.modified":
			if s.Value == "true" {
				out = append(out, [2]string{"modified", "yes"})
			}
		}
	}
	return out
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version")
	rootCmd.AddCommand(versionCmd)
}
