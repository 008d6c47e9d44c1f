package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagehand/internal/config"
	"github.com/felixgeelhaar/stagehand/internal/edit"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/eval"
	"github.com/felixgeelhaar/stagehand/internal/exec"
	"github.com/felixgeelhaar/stagehand/internal/plan"
	"github.com/felixgeelhaar/stagehand/internal/progress"
	"github.com/felixgeelhaar/stagehand/internal/task"
	"github.com/felixgeelhaar/stagehand/internal/tui"
	"github.com/felixgeelhaar/stagehand/internal/txn"
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Apply a plan to the workspace as one transaction",
	Long: `Apply a plan to the workspace as one transaction.

The plan's region is snapshotted first. Steps run in dependency order with
bounded concurrency and every completed step is validated. If any step
fails, is blocked, or fails validation, the snapshot is restored and the
command exits with status 3. Interrupting the run also restores it.

Plans with significant impact need approval: interactively through a review
screen, or with --yes.

Examples:
  stagehand run plan.yaml
  stagehand run plan.yaml --dry-run
  stagehand run plan.yaml --max-concurrency 1 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func init() {
	d := config.Defaults()
	f := runCmd.Flags()
	f.Int("max-concurrency", d.MaxConcurrency, "maximum steps running at once")
	f.Duration("cancel-grace", d.CancelGrace, "how long running steps get to stop after cancellation")
	f.Bool("keep-snapshot", d.KeepSnapshots, "keep the pre-run snapshot after the run finishes")
	f.BoolP("yes", "y", false, "approve significant-impact plans without review")
	f.Bool("dry-run", false, "show the changes the plan would make and exit")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, err := plan.Load(cc.Fs, args[0])
	if err != nil {
		return err
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		previews, err := edit.Preview(ctx, cc.Workspace, p)
		if err != nil {
			return err
		}
		return cc.Output.Format(previewReport{Plan: p.ID, Steps: previews})
	}

	gate := eval.NewGate(cc.Workspace, eval.WithDir(cc.Config.Workspace), eval.WithLogger(cc.Logger))
	if _, err := checkRequirements(p, gate.Checks()); err != nil {
		return err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	approved, err := approve(cmd, cc, p, yes)
	if err != nil || !approved {
		return err
	}

	handlers := exec.NewHandlers()
	if err := edit.Register(handlers, cc.Workspace); err != nil {
		return err
	}
	registry := task.NewRegistry(task.WithLogger(cc.Logger))

	indicator := progress.NewIndicator(progress.Config{
		Writer:      cmd.ErrOrStderr(),
		ShowSpinner: cc.Text() && tui.IsTerminal(cmd.ErrOrStderr()),
	})
	opts := []txn.Option{
		txn.WithMaxConcurrency(cc.Config.MaxConcurrency),
		txn.WithCancelGrace(cc.Config.CancelGrace),
		txn.WithKeepSnapshots(cc.Config.KeepSnapshots),
		txn.WithLogger(cc.Logger),
		txn.WithPatches(cc.Patches),
	}
	if cc.Text() {
		opts = append(opts, txn.WithProgress(indicator.Handle))
	}
	if cc.Config.Checkpoints {
		opts = append(opts, txn.WithCheckpoints(cc.Runs))
	}
	runner := txn.NewRunner(cc.Workspace, cc.Store, registry, handlers, gate, opts...)

	indicator.Start()
	res, runErr := runner.Run(ctx, p)
	indicator.Stop()

	if res != nil {
		if err := cc.Output.Format(runReport{res}); err != nil {
			return err
		}
	}
	return runError(res, runErr)
}

// approve asks for approval of significant-impact plans. It returns false
// with a nil error when the reviewer rejects the plan.
func approve(cmd *cobra.Command, cc *CommandContext, p *plan.Plan, yes bool) (bool, error) {
	if !p.RequiresApproval() || yes {
		return true, nil
	}
	if !tui.ShouldPrompt() {
		return false, serr.New(serr.ErrCodeInvalidArgument,
			fmt.Sprintf("plan %s has %s impact and needs approval", p.ID, p.MaxImpact())).
			WithSuggestion("Review the plan with 'stagehand run --dry-run', then re-run with --yes")
	}

	previews, err := edit.Preview(cmd.Context(), cc.Workspace, p)
	if err != nil {
		return false, err
	}
	diffs := make(map[string]string, len(previews))
	for _, pv := range previews {
		if pv.Err != "" {
			diffs[pv.StepID] = "preview unavailable: " + pv.Err
		} else {
			diffs[pv.StepID] = pv.Patch.Diff
		}
	}

	review, err := tui.RunPlanReview(p, diffs)
	if err != nil {
		return false, err
	}
	if !review.Approved {
		msg := "Plan rejected."
		if review.Reason != "" {
			msg = fmt.Sprintf("Plan rejected: %s", review.Reason)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		cc.Logger.WithPlan(p.ID).Info("plan rejected at review", "reason", review.Reason)
		return false, nil
	}
	return true, nil
}

// runError turns a finished run into the command's error, so the exit
// status tells a commit, a rollback and an interruption apart.
func runError(res *txn.Result, err error) error {
	if err != nil || res == nil || res.Success {
		return err
	}
	if sr, ok := res.Step(res.FailingStep); ok && sr.Validation != nil && !sr.Validation.Success {
		return serr.NewValidationFailure(res.FailingStep, res.Reason)
	}
	return serr.NewExecutionFailure(res.FailingStep, res.Reason)
}

// runReport renders a txn.Result; structured formats get the result as is.
type runReport struct {
	res *txn.Result
}

func (r runReport) MarshalJSON() ([]byte, error) { return json.Marshal(r.res) }

func (r runReport) MarshalYAML() (any, error) { return r.res, nil }

func (r runReport) WriteText(w io.Writer) error {
	res := r.res
	progress.WriteSummary(w, res)
	fmt.Fprintln(w)
	switch {
	case res.Success:
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("✓ plan %s committed in %s", res.PlanID, res.Duration.Round(time.Millisecond))))
	case res.RolledBack:
		fmt.Fprintln(w, failStyle.Render(fmt.Sprintf("✗ plan %s rolled back, workspace restored", res.PlanID)))
	default:
		fmt.Fprintln(w, failStyle.Render(fmt.Sprintf("✗ plan %s failed and could not be rolled back (snapshot %s)", res.PlanID, res.SnapshotID)))
	}
	return nil
}

type previewReport struct {
	Plan  string             `json:"plan_id" yaml:"plan_id"`
	Steps []edit.StepPreview `json:"steps" yaml:"steps"`
}

func (r previewReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Dry run of plan %s, nothing was changed.\n\n", r.Plan)
	for _, s := range r.Steps {
		switch {
		case s.Err != "":
			fmt.Fprintf(w, "%s %s\n", failStyle.Render("✗ "+s.StepID), s.Err)
		case s.Patch.Status == "":
			fmt.Fprintf(w, "· %s: %s unchanged\n", s.StepID, s.Patch.Path)
		default:
			fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("✓ "+s.StepID), s.Patch.Status, s.Patch.Path)
			fmt.Fprintln(w, s.Patch.Diff)
		}
	}
	return nil
}
