package eval

import (
	"strings"
	"time"
)

// CheckResult is the outcome of one named check against one step.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message,omitempty"`
	Details  string        `json:"details,omitempty"`
	Duration time.Duration `json:"duration"`
}

// GateReport contains every check run for a step
type GateReport struct {
	StepID      string        `json:"step_id"`
	Checks      []CheckResult `json:"checks"`
	TotalPassed int           `json:"total_passed"`
	TotalFailed int           `json:"total_failed"`
	AllPassed   bool          `json:"all_passed"`
	Duration    time.Duration `json:"duration"`
}

// Failures joins the messages of failed checks.
func (r *GateReport) Failures() string {
	var msgs []string
	for _, c := range r.Checks {
		if !c.Passed {
			msgs = append(msgs, c.Name+": "+c.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// Requirement is a parsed validation step: a check name and an optional
// argument, written "name" or "name=arg".
type Requirement struct {
	Name string
	Arg  string
}

// ParseRequirement splits a validation step into name and argument.
func ParseRequirement(s string) Requirement {
	name, arg, _ := strings.Cut(strings.TrimSpace(s), "=")
	return Requirement{Name: strings.TrimSpace(name), Arg: arg}
}

func (r Requirement) String() string {
	if r.Arg == "" {
		return r.Name
	}
	return r.Name + "=" + r.Arg
}
