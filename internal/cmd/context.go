package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagehand/internal/checkpoint"
	"github.com/felixgeelhaar/stagehand/internal/config"
	"github.com/felixgeelhaar/stagehand/internal/log"
	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/ux"
)

// newFs is the filesystem commands operate on. Tests swap in a MemMapFs.
var newFs = afero.NewOsFs

// flagKeys maps flag names to config keys. Only flags a command defines
// are bound.
var flagKeys = map[string]string{
	"workspace":       "workspace",
	"state-dir":       "state_dir",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"max-concurrency": "max_concurrency",
	"cancel-grace":    "cancel_grace",
	"keep-snapshot":   "keep_snapshots",
}

// CommandContext holds the configuration and services a command runs
// with. Commands build one at the start of RunE:
//
//	cc, err := NewCommandContext(cmd)
//	if err != nil {
//		return err
//	}
type CommandContext struct {
	Config *config.Config
	Logger *log.Logger
	Format string

	Fs        afero.Fs
	Workspace *snapshot.FSWorkspace
	Store     *snapshot.Store
	Runs      *checkpoint.Manager
	Patches   *patch.Writer
	Output    ux.Formatter
}

// NewCommandContext layers flags over environment, config file and
// defaults, then wires the workspace and its state directory.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	fs := newFs()
	v := config.New(fs)
	flags := cmd.Flags()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	if !flags.Changed("workspace") {
		if cwd, err := os.Getwd(); err == nil {
			if root, ok := ux.DiscoverWorkspace(fs, cwd); ok {
				v.SetDefault("workspace", root)
			}
		}
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		v.Set("log.level", "debug")
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}

	format, _ := flags.GetString("format")
	out, err := ux.NewFormatter(format, ux.FormatterOptions{Writer: cmd.OutOrStdout()})
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = log.NewOutput(cmd.ErrOrStderr())
	logger := log.New(logCfg)
	log.SetDefaultLogger(logger)

	var wsOpts []snapshot.WorkspaceOption
	if rel, ok := stateDirWithin(cfg); ok {
		wsOpts = append(wsOpts, snapshot.WithIgnore(rel))
	}

	return &CommandContext{
		Config:    cfg,
		Logger:    logger,
		Format:    format,
		Fs:        fs,
		Workspace: snapshot.NewFSWorkspace(fs, cfg.Workspace, wsOpts...),
		Store:     snapshot.NewDiskStore(fs, cfg.SnapshotDir(), snapshot.WithLogger(logger)),
		Runs:      checkpoint.NewManager(fs, cfg.RunsDir()),
		Patches:   patch.NewWriter(fs, cfg.PatchDir()),
		Output:    out,
	}, nil
}

// stateDirWithin returns the state directory relative to the workspace
// when it lies inside it.
func stateDirWithin(cfg *config.Config) (string, bool) {
	rel, err := filepath.Rel(cfg.Workspace, cfg.StatePath())
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Text reports whether results should be rendered for humans.
func (cc *CommandContext) Text() bool {
	return cc.Format == "" || cc.Format == "text"
}
