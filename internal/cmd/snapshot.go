package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/patch"
	"github.com/felixgeelhaar/stagehand/internal/snapshot"
	"github.com/felixgeelhaar/stagehand/internal/tui"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create, inspect and restore workspace snapshots",
	Long: `Create, inspect and restore workspace snapshots.

'stagehand run' snapshots the plan region on its own; these commands manage
snapshots by hand, for example before editing files outside of a plan.

Examples:
  stagehand snapshot create docs src/config.yaml
  stagehand snapshot list
  stagehand snapshot diff <id>
  stagehand snapshot restore <id>`,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [path...]",
	Short: "Snapshot the given paths, or the whole workspace",
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <id>",
	Short: "Show how the workspace changed since a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDiff,
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore [id]",
	Short: "Restore a snapshot's region to its captured state",
	Long: `Restore a snapshot's region to its captured state. Files created in the
region since the snapshot are removed. Without an id an interactive session
offers the available snapshots.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshotRestore,
}

var snapshotDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDiscard,
}

func init() {
	snapshotRestoreCmd.Flags().BoolP("yes", "y", false, "restore without asking for confirmation")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotDiffCmd, snapshotRestoreCmd, snapshotDiscardCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// snapshotInfo summarizes a manifest.
type snapshotInfo struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Region    []string  `json:"region,omitempty" yaml:"region,omitempty"`
	Files     int       `json:"files" yaml:"files"`
	Bytes     int64     `json:"bytes" yaml:"bytes"`
}

func infoOf(m *snapshot.Manifest) snapshotInfo {
	return snapshotInfo{ID: m.ID, CreatedAt: m.CreatedAt, Region: m.Region, Files: len(m.Files), Bytes: m.Size()}
}

func regionText(region []string) string {
	if len(region) == 0 {
		return "(workspace)"
	}
	return strings.Join(region, ", ")
}

func (s snapshotInfo) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "✓ snapshot %s: %d file(s), %d bytes, region %s\n", s.ID, s.Files, s.Bytes, regionText(s.Region))
	return err
}

type snapshotList []snapshotInfo

func (l snapshotList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tFILES\tBYTES\tREGION")
	for _, s := range l {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Files, s.Bytes, regionText(s.Region))
	}
	return tw.Flush()
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	id, err := cc.Store.Create(cmd.Context(), cc.Workspace, args...)
	if err != nil {
		return err
	}
	m, err := cc.Store.Get(id)
	if err != nil {
		return err
	}
	return cc.Output.Format(infoOf(m))
}

func runSnapshotList(cmd *cobra.Command, _ []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ms, err := cc.Store.List()
	if err != nil {
		return err
	}
	out := make(snapshotList, 0, len(ms))
	for _, m := range ms {
		out = append(out, infoOf(m))
	}
	return cc.Output.Format(out)
}

// snapshotDiff is the difference between a snapshot and the workspace.
type snapshotDiff struct {
	ID         string            `json:"id" yaml:"id"`
	Files      []patch.FilePatch `json:"files" yaml:"files"`
	Changed    int               `json:"files_changed" yaml:"files_changed"`
	Insertions int               `json:"insertions" yaml:"insertions"`
	Deletions  int               `json:"deletions" yaml:"deletions"`
}

func (d snapshotDiff) WriteText(w io.Writer) error {
	if len(d.Files) == 0 {
		_, err := fmt.Fprintf(w, "No changes since snapshot %s.\n", d.ID)
		return err
	}
	for _, fp := range d.Files {
		fmt.Fprintln(w, fp.Diff)
	}
	_, err := fmt.Fprintf(w, "%d file(s) changed, %d insertion(s)(+), %d deletion(s)(-)\n", d.Changed, d.Insertions, d.Deletions)
	return err
}

func runSnapshotDiff(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	files, err := cc.Store.Diff(cmd.Context(), cc.Workspace, args[0])
	if err != nil {
		return err
	}
	out := snapshotDiff{ID: args[0], Files: files}
	out.Changed, out.Insertions, out.Deletions = patch.Summarize(files)
	return cc.Output.Format(out)
}

func runSnapshotRestore(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	interactive := tui.ShouldPrompt()

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		if !interactive {
			return serr.NewInvalidArgumentError("snapshot id required").
				WithSuggestion("Run 'stagehand snapshot list' to see available snapshots")
		}
		if id, err = pickSnapshot(cc); err != nil {
			return err
		}
	}

	m, err := cc.Store.Get(id)
	if err != nil {
		return err
	}
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		if !interactive {
			return serr.NewInvalidArgumentError("restoring overwrites workspace files and needs confirmation").
				WithSuggestion("Re-run with --yes")
		}
		ok, err := tui.PromptForConfirmation(
			fmt.Sprintf("Restore snapshot %s?", m.ID),
			fmt.Sprintf("%d file(s) in %s. Later changes in that region are lost.", len(m.Files), regionText(m.Region)), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Restore cancelled.")
			return nil
		}
	}

	if err := cc.Store.Restore(cmd.Context(), cc.Workspace, id); err != nil {
		return err
	}
	cc.Logger.WithSnapshot(id).Info("snapshot restored by hand")
	fmt.Fprintf(cmd.OutOrStdout(), "✓ restored snapshot %s\n", id)
	return nil
}

func pickSnapshot(cc *CommandContext) (string, error) {
	ms, err := cc.Store.List()
	if err != nil {
		return "", err
	}
	if len(ms) == 0 {
		return "", serr.ErrSnapshotNotFound
	}
	choices := make([]tui.Choice, len(ms))
	for i, m := range ms {
		choices[i] = tui.Choice{
			Label: fmt.Sprintf("%s  %s  %s", m.ID, m.CreatedAt.Local().Format(time.DateTime), regionText(m.Region)),
			Value: m.ID,
		}
	}
	return tui.PromptForSelect("Snapshot to restore", choices)
}

func runSnapshotDiscard(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if err := cc.Store.Discard(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ discarded snapshot %s\n", args[0])
	return nil
}
