package plan

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

func validPlan() *Plan {
	return &Plan{
		ID: "rename-config",
		Steps: []Step{
			{ID: "write-x", Target: "x.txt", Change: Change{Kind: KindWrite, Content: "x\n"}},
			{ID: "edit-y", Target: "dir/y.txt", Change: Change{Kind: KindReplace, Old: "a", New: "b"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Plan)
		code    serr.ErrorCode
		wantMsg string
	}{
		{"valid", func(p *Plan) {}, "", ""},
		{"empty id", func(p *Plan) { p.ID = " " }, serr.ErrCodePlanInvalid, "plan id"},
		{"no steps", func(p *Plan) { p.Steps = nil }, serr.ErrCodePlanInvalid, "at least one step"},
		{"bad status", func(p *Plan) { p.Status = "done" }, serr.ErrCodePlanInvalid, "unknown plan status"},
		{"bad step id", func(p *Plan) { p.Steps[0].ID = "Write X" }, serr.ErrCodePlanInvalid, "invalid step ID"},
		{"duplicate id", func(p *Plan) { p.Steps[1].ID = "write-x" }, serr.ErrCodePlanInvalid, "duplicate step ID"},
		{"escaping target", func(p *Plan) { p.Steps[0].Target = "../etc/passwd" }, serr.ErrCodePlanInvalid, "invalid target"},
		{"empty target", func(p *Plan) { p.Steps[0].Target = "/" }, serr.ErrCodePlanInvalid, "target cannot be empty"},
		{"no kind", func(p *Plan) { p.Steps[0].Change.Kind = "" }, serr.ErrCodePlanInvalid, "change kind"},
		{"replace without old", func(p *Plan) { p.Steps[1].Change.Old = "" }, serr.ErrCodePlanInvalid, "text to replace"},
		{"bad impact", func(p *Plan) { p.Steps[0].Impact = "huge" }, serr.ErrCodePlanInvalid, "invalid impact"},
		{"bad priority", func(p *Plan) { p.Steps[0].Priority = 9 }, serr.ErrCodePlanInvalid, "invalid priority"},
		{"self dependency", func(p *Plan) { p.Steps[0].DependsOn = []string{"write-x"} }, serr.ErrCodePlanInvalid, "depends on itself"},
		{"unknown dependency", func(p *Plan) { p.Steps[0].DependsOn = []string{"ghost"} }, serr.ErrCodePlanInvalid, `"ghost"`},
		{"empty required change", func(p *Plan) { p.RequiredChanges = []string{" "} }, serr.ErrCodePlanInvalid, "required change at index 0 is empty"},
		{"escaping required change", func(p *Plan) { p.RequiredChanges = []string{"../out"} }, serr.ErrCodePlanInvalid, "escapes the workspace"},
		{"empty requirement", func(p *Plan) { p.ValidationSteps = []string{""} }, serr.ErrCodePlanInvalid, "validation step"},
		{
			"cycle",
			func(p *Plan) {
				p.Steps[0].DependsOn = []string{"edit-y"}
				p.Steps[1].DependsOn = []string{"write-x"}
			},
			serr.ErrCodeCyclicDependency, "write-x -> edit-y -> write-x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			err := p.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, serr.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRegionAndImpact(t *testing.T) {
	p := validPlan()
	p.Steps = append(p.Steps, Step{ID: "drop", Target: "/dir", Change: Change{Kind: KindDelete}, Impact: domain.ImpactSignificant})

	assert.Equal(t, []string{"dir", "x.txt"}, p.Region())

	p.RequiredChanges = []string{"gen", "dir/sub"}
	assert.Equal(t, []string{"dir", "gen", "x.txt"}, p.Region())
	p.RequiredChanges = []string{"."}
	assert.Nil(t, p.Region())
	assert.Equal(t, domain.ImpactSignificant, p.MaxImpact())
	assert.True(t, p.RequiresApproval())

	s, ok := p.Step("drop")
	require.True(t, ok)
	assert.Equal(t, KindDelete, s.Change.Kind)
	_, ok = p.Step("nope")
	assert.False(t, ok)
}

func TestRequirements(t *testing.T) {
	p := validPlan()
	p.ValidationSteps = []string{"exists", "non-empty"}
	s := Step{Validation: []string{"non-empty", "yaml"}}
	assert.Equal(t, []string{"exists", "non-empty", "yaml"}, p.Requirements(s))
}

func TestDependencies(t *testing.T) {
	p := validPlan()
	p.Steps = append(p.Steps, Step{ID: "third", Target: "z", Change: Change{Kind: KindWrite}})

	t.Run("chained when nothing declared", func(t *testing.T) {
		deps := p.Dependencies()
		assert.Empty(t, deps["write-x"])
		assert.Equal(t, []string{"write-x"}, deps["edit-y"])
		assert.Equal(t, []string{"edit-y"}, deps["third"])
	})

	t.Run("independent when concurrent", func(t *testing.T) {
		q := *p
		q.Concurrent = true
		for _, d := range q.Dependencies() {
			assert.Empty(t, d)
		}
	})

	t.Run("declared edges only", func(t *testing.T) {
		q := validPlan()
		q.Steps = append(q.Steps, Step{ID: "third", Target: "z", Change: Change{Kind: KindWrite}, DependsOn: []string{"write-x"}})
		deps := q.Dependencies()
		assert.Empty(t, deps["edit-y"])
		assert.Equal(t, []string{"write-x"}, deps["third"])

		g, err := q.Graph()
		require.NoError(t, err)
		assert.Equal(t, []string{"write-x", "edit-y", "third"}, g.Nodes())
		assert.Equal(t, []string{"third"}, g.Dependents("write-x"))
	})
}

const yamlPlan = `
id: update-docs
description: refresh the docs
validation_steps: [exists]
steps:
  - id: intro
    target: docs/intro.md
    impact: moderate
    priority: high
    change:
      kind: write
      content: |
        # Intro
  - id: readme
    target: README.md
    depends_on: [intro]
    validation: ["contains=Intro"]
    change:
      kind: append
      content: "see docs/intro.md\n"
`

func TestParseYAML(t *testing.T) {
	p, err := Parse([]byte(yamlPlan), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "update-docs", p.ID)
	assert.Equal(t, StatusPending, p.Status)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, domain.PriorityHigh, p.Steps[0].Priority)
	assert.Equal(t, domain.ImpactModerate, p.Steps[0].Impact)
	assert.Equal(t, "# Intro\n", p.Steps[0].Change.Content)
	assert.Equal(t, []string{"intro"}, p.Steps[1].DependsOn)
	assert.Equal(t, []string{"exists", "contains=Intro"}, p.Requirements(p.Steps[1]))
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("id: x\nsteps: []\nbogus: 1\n"), FormatYAML)
	assert.Error(t, err)

	_, err = Parse([]byte(`{"id": "x", "steps": []}`), FormatJSON)
	assert.True(t, serr.HasCode(err, serr.ErrCodePlanInvalid))

	_, err = Parse([]byte(`{"id": "x", "extra": true}`), FormatJSON)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	want, err := Parse([]byte(yamlPlan), FormatYAML)
	require.NoError(t, err)

	for _, name := range []string{"plan.yaml", "plan.json"} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, Save(fs, want, name))
			got, err := Load(fs, name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	raw, err := afero.ReadFile(fs, "plan.json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "{"))
	assert.Contains(t, string(raw), `"priority": "high"`)
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Load(fs, "missing.yaml")
	assert.True(t, serr.HasCode(err, serr.ErrCodePlanLoad))

	require.NoError(t, afero.WriteFile(fs, "broken.yaml", []byte("steps: ["), 0o644))
	_, err = Load(fs, "broken.yaml")
	assert.True(t, serr.HasCode(err, serr.ErrCodePlanLoad))

	require.NoError(t, afero.WriteFile(fs, "empty.json", []byte(`{"id":"p","steps":[]}`), 0o644))
	_, err = Load(fs, "empty.json")
	assert.True(t, serr.HasCode(err, serr.ErrCodePlanInvalid))
}

func TestGenerate(t *testing.T) {
	edits := []EditRequest{
		{Target: "a.txt", Change: Change{Kind: KindWrite, Content: "a"}},
		{Target: "./b.txt", Change: Change{Kind: KindDelete}},
		{Target: "a.txt", Change: Change{Kind: KindAppend, Content: "more"}, Description: "extend a"},
		{Target: "dir", Change: Change{Kind: KindDelete}},
		{Target: "dir/c.txt", Change: Change{Kind: KindWrite, Content: "c"}},
	}

	p, err := Generate(edits, GenerateOptions{ID: "gen", ValidationSteps: []string{"exists"}, EstimateImpact: true})
	require.NoError(t, err)

	assert.Equal(t, "gen", p.ID)
	assert.True(t, p.Concurrent)
	require.Len(t, p.Steps, 5)
	assert.Equal(t, "step-001", p.Steps[0].ID)
	assert.Equal(t, "b.txt", p.Steps[1].Target)
	assert.Empty(t, p.Steps[1].DependsOn)
	assert.Equal(t, []string{"step-001"}, p.Steps[2].DependsOn)
	assert.Equal(t, []string{"step-004"}, p.Steps[4].DependsOn)
	assert.Equal(t, "extend a", p.Steps[2].Description)
	assert.Equal(t, "delete b.txt", p.Steps[1].Description)
	assert.Equal(t, domain.ImpactSignificant, p.Steps[1].Impact)
	assert.Equal(t, domain.ImpactMinimal, p.Steps[2].Impact)
	assert.Equal(t, domain.ImpactModerate, p.Steps[0].Impact)
	assert.Equal(t, []string{"a.txt", "b.txt", "dir", "dir/c.txt"}, p.RequiredChanges)
	assert.Equal(t, []string{"a.txt", "b.txt", "dir"}, p.Region())

	generated, err := Generate(edits[:1], GenerateOptions{})
	require.NoError(t, err)
	assert.Regexp(t, `^plan-[0-9a-f]{8}$`, generated.ID)
	assert.Equal(t, domain.Impact(""), generated.Steps[0].Impact)

	_, err = Generate(nil, GenerateOptions{})
	assert.Error(t, err)
	_, err = Generate([]EditRequest{{Target: "../x", Change: Change{Kind: KindWrite}}}, GenerateOptions{})
	assert.Error(t, err)
}
