package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagehand/internal/checkpoint"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/progress"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded plan runs",
	Long: `Inspect recorded plan runs.

Every run writes a record to <state-dir>/runs as it progresses, so a run
that was interrupted can still be examined. Committed runs also leave one
patch per changed step in <state-dir>/patches, which 'runs revert' undoes.

Examples:
  stagehand runs list
  stagehand runs show <run-id>
  stagehand runs revert <run-id>`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the steps and outcome of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsRevertCmd = &cobra.Command{
	Use:   "revert <run-id>",
	Short: "Undo a committed run using its patches",
	Long: `Undo a committed run using its patches, newest step first.

Files changed since the run are conflicts and stop the revert unless --force
is given. The reverted region is snapshotted first, so a revert can itself be
undone with 'stagehand snapshot restore'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsRevert,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsRevertCmd.Flags().Bool("force", false, "revert even when files changed since the run")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsRevertCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

type runList []*checkpoint.State

func (l runList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPLAN\tSTATUS\tSTARTED\tSTEPS\tFAILING")
	for _, s := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			s.RunID, s.PlanID, s.Status, s.StartedAt.Local().Format(time.DateTime),
			len(s.CompletedSteps()), len(s.Order), s.FailingStep)
	}
	return tw.Flush()
}

type runInfo struct {
	*checkpoint.State
}

func (r runInfo) WriteText(w io.Writer) error {
	progress.PrintRunInfo(w, r.State)
	return nil
}

func loadRun(cc *CommandContext, id string) (*checkpoint.State, error) {
	s, err := cc.Runs.Load(id)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, serr.NewInvalidArgumentError("no run recorded with id " + id).
			WithSuggestion("Run 'stagehand runs list' to see recorded runs")
	}
	return s, err
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	states, err := cc.Runs.LoadAll()
	if err != nil {
		return err
	}
	return cc.Output.Format(runList(states))
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	s, err := loadRun(cc, args[0])
	if err != nil {
		return err
	}
	if cc.Text() {
		return cc.Output.Format(runInfo{s})
	}
	return cc.Output.Format(s)
}

type revertReport struct {
	RunID      string `json:"run_id" yaml:"run_id"`
	SnapshotID string `json:"snapshot_id" yaml:"snapshot_id"`

	patch.RevertResult `yaml:",inline"`
}

func (r revertReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "✓ reverted run %s: %d file(s) restored\n", r.RunID, r.FilesReverted)
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "  ! %s\n", c)
	}
	_, err := fmt.Fprintf(w, "  Undo with: stagehand snapshot restore %s\n", r.SnapshotID)
	return err
}

func runRunsRevert(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	s, err := loadRun(cc, args[0])
	if err != nil {
		return err
	}
	if s.Status != checkpoint.StatusCommitted {
		return serr.NewInvalidArgumentError(fmt.Sprintf("run %s is %s; only committed runs can be reverted", s.RunID, s.Status))
	}

	patches, err := cc.Patches.ListPatches(s.PlanID)
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		return serr.NewInvalidArgumentError(fmt.Sprintf("run %s left no patches to revert", s.RunID))
	}

	var region []string
	for _, p := range patches {
		for _, fp := range p.Files {
			region = append(region, fp.Path)
		}
	}
	snapID, err := cc.Store.Create(cmd.Context(), cc.Workspace, region...)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	var result *patch.RevertResult
	err = cc.Workspace.Update(func(ws snapshot.Workspace) error {
		result, err = patch.Revert(ws, patches, force)
		return err
	})
	if err != nil {
		if result != nil && result.FilesReverted > 0 {
			if restoreErr := cc.Store.Restore(context.WithoutCancel(cmd.Context()), cc.Workspace, snapID); restoreErr != nil {
				cc.Logger.WithError(restoreErr).Error("failed to undo partial revert", "snapshot_id", snapID)
				return fmt.Errorf("revert of run %s failed part way and could not be undone (snapshot %s kept): %w", s.RunID, snapID, err)
			}
		}
		if discardErr := cc.Store.Discard(snapID); discardErr != nil {
			cc.Logger.WithError(discardErr).Warn("failed to discard pre-revert snapshot", "snapshot_id", snapID)
		}
		msg := fmt.Sprintf("cannot revert run %s", s.RunID)
		if result != nil && len(result.Conflicts) > 0 {
			return serr.Wrap(serr.ErrCodeInvalidArgument, msg, err).
				WithSuggestions(result.Conflicts...).
				WithSuggestion("Re-run with --force to overwrite them")
		}
		return fmt.Errorf("%s: %w", msg, err)
	}

	cc.Logger.WithPlan(s.PlanID).Info("run reverted", "run_id", s.RunID, "files", result.FilesReverted, "snapshot_id", snapID)
	return cc.Output.Format(revertReport{RunID: s.RunID, SnapshotID: snapID, RevertResult: *result})
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if _, err := loadRun(cc, args[0]); err != nil {
		return err
	}
	if err := cc.Runs.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted run %s\n", args[0])
	return nil
}
