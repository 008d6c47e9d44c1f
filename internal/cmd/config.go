package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/stagehand/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration.

Settings are layered: command-line flags override STAGEHAND_* environment
variables, which override stagehand.yaml in the workspace, which overrides
the built-in defaults.

Examples:
  stagehand config view
  STAGEHAND_MAX_CONCURRENCY=2 stagehand config view --format json
  stagehand config path`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigView,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where configuration and state live",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configViewCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// configView renders a config as YAML in text mode.
type configView struct {
	*config.Config
}

func (c configView) WriteText(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Config); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigView(cmd *cobra.Command, _ []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if cc.Text() {
		return cc.Output.Format(configView{cc.Config})
	}
	return cc.Output.Format(cc.Config)
}

type configPaths struct {
	Workspace string `json:"workspace" yaml:"workspace"`
	Config    string `json:"config" yaml:"config"`
	State     string `json:"state" yaml:"state"`
	Snapshots string `json:"snapshots" yaml:"snapshots"`
	Runs      string `json:"runs" yaml:"runs"`
	Patches   string `json:"patches" yaml:"patches"`
}

func (p configPaths) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Workspace:  %s\n", p.Workspace)
	fmt.Fprintf(w, "Config:     %s\n", p.Config)
	fmt.Fprintf(w, "State:      %s\n", p.State)
	fmt.Fprintf(w, "Snapshots:  %s\n", p.Snapshots)
	fmt.Fprintf(w, "Runs:       %s\n", p.Runs)
	_, err := fmt.Fprintf(w, "Patches:    %s\n", p.Patches)
	return err
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile == "" {
		cfgFile = cc.Config.Workspace + "/" + config.FileName
	}
	return cc.Output.Format(configPaths{
		Workspace: cc.Config.Workspace,
		Config:    cfgFile,
		State:     cc.Config.StatePath(),
		Snapshots: cc.Config.SnapshotDir(),
		Runs:      cc.Config.RunsDir(),
		Patches:   cc.Config.PatchDir(),
	})
}
