package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/eval"
	"github.com/felixgeelhaar/stagehand/internal/graph"
	"github.com/felixgeelhaar/stagehand/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect, check and generate plans",
	Long: `Inspect, check and generate plans.

Examples:
  stagehand plan validate plan.yaml
  stagehand plan graph plan.yaml --dot | dot -Tsvg > plan.svg
  stagehand plan critical-path plan.yaml --by-impact
  stagehand plan generate edits.yaml --out plan.yaml`,
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Check a plan's structure, dependencies and validation requirements",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanValidate,
}

var planGraphCmd = &cobra.Command{
	Use:   "graph <plan-file>",
	Short: "Show the order steps run in",
	Long: `Show the order steps run in, one wave per line. Steps in the same wave
may run concurrently. With --dot the dependency graph is written in Graphviz
DOT format.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanGraph,
}

var planCriticalPathCmd = &cobra.Command{
	Use:   "critical-path <plan-file>",
	Short: "Show the longest dependency chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanCriticalPath,
}

var planGenerateCmd = &cobra.Command{
	Use:   "generate <edits-file>",
	Short: "Build a plan from a list of edits",
	Long: `Build a plan from a YAML or JSON list of edits. Each edit becomes a step;
edits to overlapping paths are ordered, all others may run concurrently.

An edits file looks like:

  - target: docs/intro.md
    change: {kind: write, content: "# Intro\n"}
  - target: README.md
    change: {kind: replace, old: "v1", new: "v2"}`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanGenerate,
}

func init() {
	planGraphCmd.Flags().Bool("dot", false, "write Graphviz DOT")
	planCriticalPathCmd.Flags().Bool("by-impact", false, "weight steps by impact instead of counting them")

	f := planGenerateCmd.Flags()
	f.String("out", "", "write the plan to this file instead of stdout")
	f.String("id", "", "plan id (default: generated)")
	f.String("description", "", "plan description")
	f.StringArray("require", nil, "validation requirement applied to every step (repeatable)")
	f.Bool("estimate-impact", true, "classify each step's impact from its change")

	planCmd.AddCommand(planValidateCmd, planGraphCmd, planCriticalPathCmd, planGenerateCmd)
	rootCmd.AddCommand(planCmd)
}

// planCheck is the result of plan validate.
type planCheck struct {
	Plan         string   `json:"plan_id" yaml:"plan_id"`
	Steps        int      `json:"steps" yaml:"steps"`
	Region       []string `json:"region" yaml:"region"`
	MaxImpact    string   `json:"max_impact" yaml:"max_impact"`
	NeedsReview  bool     `json:"needs_review" yaml:"needs_review"`
	Requirements []string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

func (c planCheck) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "✓ plan %s is valid\n", c.Plan)
	fmt.Fprintf(w, "  Steps:        %d\n", c.Steps)
	region := strings.Join(c.Region, ", ")
	if region == "" {
		region = "(whole workspace)"
	}
	fmt.Fprintf(w, "  Region:       %s\n", region)
	fmt.Fprintf(w, "  Max impact:   %s\n", c.MaxImpact)
	if c.NeedsReview {
		fmt.Fprintln(w, "  Needs review before it runs (or --yes)")
	}
	if len(c.Requirements) > 0 {
		fmt.Fprintf(w, "  Checks:       %s\n", strings.Join(c.Requirements, ", "))
	}
	return nil
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	p, err := plan.Load(cc.Fs, args[0])
	if err != nil {
		return err
	}
	reqs, err := checkRequirements(p, eval.NewGate(cc.Workspace).Checks())
	if err != nil {
		return err
	}
	return cc.Output.Format(planCheck{
		Plan:         p.ID,
		Steps:        len(p.Steps),
		Region:       p.Region(),
		MaxImpact:    p.MaxImpact().String(),
		NeedsReview:  p.RequiresApproval(),
		Requirements: reqs,
	})
}

// checkRequirements reports requirements no check is registered for. It
// returns the distinct check names the plan uses.
func checkRequirements(p *plan.Plan, known []string) ([]string, error) {
	registered := graph.NewSet(known...)
	used := graph.NewSet()
	var names, unknown []string
	for _, s := range p.Steps {
		for _, raw := range p.Requirements(s) {
			name := eval.ParseRequirement(raw).Name
			if !registered.Has(name) {
				unknown = append(unknown, fmt.Sprintf("step %s: %q", s.ID, name))
				continue
			}
			if !used.Has(name) {
				used.Add(name)
				names = append(names, name)
			}
		}
	}
	if len(unknown) > 0 {
		return nil, serr.NewPlanInvalidError("unknown validation requirement: " + strings.Join(unknown, ", ")).
			WithSuggestion("Available checks: " + strings.Join(known, ", "))
	}
	return names, nil
}

type planWaves struct {
	Plan  string     `json:"plan_id" yaml:"plan_id"`
	Waves [][]string `json:"waves" yaml:"waves"`
}

func (pw planWaves) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Plan %s runs in %d wave(s):\n", pw.Plan, len(pw.Waves))
	for i, wave := range pw.Waves {
		fmt.Fprintf(w, "  %d. %s\n", i+1, strings.Join(wave, ", "))
	}
	return nil
}

func runPlanGraph(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	p, err := plan.Load(cc.Fs, args[0])
	if err != nil {
		return err
	}
	g, err := p.Graph()
	if err != nil {
		return err
	}

	if dot, _ := cmd.Flags().GetBool("dot"); dot {
		return graph.WriteDOT(cmd.OutOrStdout(), g, graph.DOTOptions{
			Name:  p.ID,
			Label: func(id string) string { return stepLabel(p, id) },
			Color: func(id string) string { return impactColor(p, id) },
		})
	}

	batches, err := g.Batches()
	if err != nil {
		return err
	}
	out := planWaves{Plan: p.ID}
	for wave := range batches {
		out.Waves = append(out.Waves, wave)
	}
	return cc.Output.Format(out)
}

func stepLabel(p *plan.Plan, id string) string {
	s, _ := p.Step(id)
	return fmt.Sprintf("%s\n%s %s", id, s.Change.Kind, s.Target)
}

func impactColor(p *plan.Plan, id string) string {
	s, _ := p.Step(id)
	switch s.Impact.Rank() {
	case 3:
		return "orange"
	case 4:
		return "tomato"
	}
	return ""
}

type criticalPath struct {
	Plan   string   `json:"plan_id" yaml:"plan_id"`
	Path   []string `json:"path" yaml:"path"`
	Weight int      `json:"weight" yaml:"weight"`
}

func (c criticalPath) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Critical path of %s (weight %d):\n", c.Plan, c.Weight)
	fmt.Fprintf(w, "  %s\n", strings.Join(c.Path, " → "))
	return nil
}

func runPlanCriticalPath(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	p, err := plan.Load(cc.Fs, args[0])
	if err != nil {
		return err
	}
	g, err := p.Graph()
	if err != nil {
		return err
	}

	var weight func(string) int
	if byImpact, _ := cmd.Flags().GetBool("by-impact"); byImpact {
		weight = func(id string) int {
			s, _ := p.Step(id)
			return s.Impact.Rank()
		}
	}
	path, total, err := g.CriticalPath(weight)
	if err != nil {
		return err
	}
	return cc.Output.Format(criticalPath{Plan: p.ID, Path: path, Weight: total})
}

func runPlanGenerate(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	edits, err := plan.LoadEdits(cc.Fs, args[0])
	if err != nil {
		return err
	}

	f := cmd.Flags()
	opts := plan.GenerateOptions{}
	opts.ID, _ = f.GetString("id")
	opts.Description, _ = f.GetString("description")
	opts.ValidationSteps, _ = f.GetStringArray("require")
	opts.EstimateImpact, _ = f.GetBool("estimate-impact")

	p, err := plan.Generate(edits, opts)
	if err != nil {
		return serr.Wrap(serr.ErrCodePlanInvalid, "cannot generate plan", err)
	}
	if _, err := checkRequirements(p, eval.NewGate(cc.Workspace).Checks()); err != nil {
		return err
	}

	out, _ := f.GetString("out")
	if out == "" {
		data, err := plan.Marshal(p, plan.FormatYAML)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := plan.Save(cc.Fs, p, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote plan %s with %d step(s) to %s\n", p.ID, len(p.Steps), out)
	return nil
}
