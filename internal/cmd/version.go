package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagehand/internal/ux"
	"github.com/felixgeelhaar/stagehand/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform. Use --format json for scripts.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the version number")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := version.GetInfo()

	if short, _ := cmd.Flags().GetBool("short"); short {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), info.Short())
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	out, err := ux.NewFormatter(format, ux.FormatterOptions{Writer: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	return out.Format(info)
}
