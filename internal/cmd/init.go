package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagehand/internal/config"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/ux"
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Set up a workspace for stagehand",
	Long: `Set up a workspace for stagehand.

Writes stagehand.yaml with the default settings, creates the state directory
and, when the workspace has a .gitignore, adds the state directory to it.

Examples:
  stagehand init
  stagehand init ./service --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing stagehand.yaml")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	fs := newFs()
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	configPath := filepath.Join(dir, config.FileName)
	exists, err := afero.Exists(fs, configPath)
	if err != nil {
		return ux.FormatError(err, "checking for existing config")
	}
	if force, _ := cmd.Flags().GetBool("force"); exists && !force {
		return serr.New(serr.ErrCodeConfigInvalid, configPath+" already exists").
			WithSuggestion("Re-run with --force to overwrite it")
	}

	cfg := config.Defaults()
	cfg.Workspace = ""
	if err := config.Save(fs, &cfg, configPath); err != nil {
		return ux.FormatError(err, "writing "+config.FileName)
	}
	cfg.Workspace = dir
	for _, d := range []string{cfg.SnapshotDir(), cfg.RunsDir(), cfg.PatchDir()} {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			return ux.FormatError(err, "creating state directory")
		}
	}
	ignored, err := ignoreStateDir(fs, dir, cfg.StateDir)
	if err != nil {
		return ux.FormatError(err, "updating .gitignore")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ wrote %s\n", configPath)
	fmt.Fprintf(out, "✓ created %s\n", cfg.StatePath())
	if ignored {
		fmt.Fprintf(out, "✓ added %s/ to .gitignore\n", cfg.StateDir)
	}
	fmt.Fprintln(out, "\nNext: stagehand plan generate edits.yaml --out plan.yaml && stagehand run plan.yaml")
	return nil
}

// ignoreStateDir appends the state directory to an existing .gitignore. It
// reports whether the file was changed.
func ignoreStateDir(fs afero.Fs, dir, stateDir string) (bool, error) {
	path := filepath.Join(dir, ".gitignore")
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		exists, _ := afero.Exists(fs, path)
		if !exists {
			return false, nil
		}
		return false, err
	}

	entry := strings.TrimSuffix(filepath.ToSlash(stateDir), "/") + "/"
	for _, line := range strings.Split(string(data), "\n") {
		if l := strings.TrimSpace(line); l == entry || l == strings.TrimSuffix(entry, "/") || l == "/"+entry {
			return false, nil
		}
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"
	return true, afero.WriteFile(fs, path, []byte(content), 0o644)
}
