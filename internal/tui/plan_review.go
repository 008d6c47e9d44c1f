package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/stagehand/internal/plan"
)

// PlanReviewResult holds the result of a plan review session
type PlanReviewResult struct {
	Approved bool
	Reason   string
}

// planReviewModel is the BubbleTea model for plan review
type planReviewModel struct {
	plan           *plan.Plan
	diffs          map[string]string
	cursor         int
	selectedStep   int
	viewMode       string // "list" or "detail"
	approved       *bool
	rejectionInput string
	editingReason  bool
	result         *PlanReviewResult
	width          int
	height         int
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginLeft(2)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("170")).
				Bold(true).
				PaddingLeft(2)

	itemStyle = lipgloss.NewStyle().
			PaddingLeft(4)

	detailKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Bold(true)

	detailValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	diffStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			PaddingLeft(4)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginLeft(2).
			MarginTop(1)

	approveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	rejectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)

func newPlanReviewModel(p *plan.Plan, diffs map[string]string) planReviewModel {
	return planReviewModel{plan: p, diffs: diffs, viewMode: "list"}
}

// Init initializes the model
func (m planReviewModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m planReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.editingReason {
			return m.updateReason(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q":
			if m.approved == nil {
				approved := false
				m.approved = &approved
				m.result = &PlanReviewResult{Approved: false, Reason: "Review cancelled"}
			}
			return m, tea.Quit

		case "up", "k":
			if m.viewMode == "list" && m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "j":
			if m.viewMode == "list" && m.cursor < len(m.plan.Steps)-1 {
				m.cursor++
			}
			return m, nil

		case "enter", "right", "l":
			if m.viewMode == "list" {
				m.selectedStep = m.cursor
				m.viewMode = "detail"
			}
			return m, nil

		case "left", "h", "esc":
			if m.viewMode == "detail" {
				m.viewMode = "list"
			}
			return m, nil

		case "a", "A":
			approved := true
			m.approved = &approved
			m.result = &PlanReviewResult{Approved: true}
			return m, tea.Quit

		case "r", "R":
			rejected := false
			m.approved = &rejected
			m.editingReason = true
			return m, nil
		}
	}

	return m, nil
}

func (m planReviewModel) updateReason(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.editingReason = false
		m.result = &PlanReviewResult{Approved: false, Reason: m.rejectionInput}
		return m, tea.Quit
	case "esc":
		m.editingReason = false
		m.rejectionInput = ""
		m.approved = nil
		return m, nil
	case "backspace":
		if len(m.rejectionInput) > 0 {
			m.rejectionInput = m.rejectionInput[:len(m.rejectionInput)-1]
		}
		return m, nil
	default:
		switch msg.Type {
		case tea.KeyRunes:
			m.rejectionInput += string(msg.Runes)
		case tea.KeySpace:
			m.rejectionInput += " "
		}
		return m, nil
	}
}

// View renders the current state
func (m planReviewModel) View() string {
	if m.result != nil {
		if m.result.Approved {
			return approveStyle.Render("\n✓ Plan Approved\n\n")
		}
		reason := m.result.Reason
		if reason == "" {
			reason = "No reason provided"
		}
		return rejectStyle.Render(fmt.Sprintf("\n✗ Plan Rejected\n  Reason: %s\n\n", reason))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Plan Review: " + m.plan.ID))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("Total Steps: %d | Max Impact: %s", len(m.plan.Steps), m.plan.MaxImpact())))
	b.WriteString("\n\n")

	if m.viewMode == "list" {
		for i, step := range m.plan.Steps {
			style := itemStyle
			cursor := "  "
			if i == m.cursor {
				style = selectedItemStyle
				cursor = "→ "
			}
			line := fmt.Sprintf("%s[%d] %s | %s %s | %s",
				cursor,
				i+1,
				step.ID,
				step.Change.Kind,
				step.Target,
				impactOf(step),
			)
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	} else {
		m.renderDetail(&b)
	}

	b.WriteString("\n")

	if m.editingReason {
		b.WriteString(rejectStyle.Render("✗ Rejection Reason:"))
		b.WriteString("\n  ")
		b.WriteString(m.rejectionInput)
		b.WriteString("_")
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter: submit | esc: cancel"))
	} else if m.viewMode == "list" {
		b.WriteString(helpStyle.Render("↑/↓: navigate | enter: view details | a: approve | r: reject | q: quit"))
	} else {
		b.WriteString(helpStyle.Render("h/esc: back to list | a: approve | r: reject | q: quit"))
	}

	return b.String()
}

func (m planReviewModel) renderDetail(b *strings.Builder) {
	step := m.plan.Steps[m.selectedStep]
	b.WriteString(headerStyle.Render(fmt.Sprintf("Step %d of %d", m.selectedStep+1, len(m.plan.Steps))))
	b.WriteString("\n\n")

	priority := "-"
	if step.Priority != 0 {
		priority = step.Priority.String()
	}
	details := []struct {
		key   string
		value string
	}{
		{"ID", step.ID},
		{"Description", step.Description},
		{"Target", step.Target},
		{"Change", step.Change.Kind},
		{"Impact", impactOf(step)},
		{"Priority", priority},
		{"Validation", strings.Join(m.plan.Requirements(step), ", ")},
	}
	for _, detail := range details {
		b.WriteString("  ")
		b.WriteString(detailKeyStyle.Render(fmt.Sprintf("%-12s:", detail.key)))
		b.WriteString(" ")
		b.WriteString(detailValueStyle.Render(detail.value))
		b.WriteString("\n")
	}

	if len(step.DependsOn) > 0 {
		b.WriteString("\n  ")
		b.WriteString(detailKeyStyle.Render("Depends On:"))
		b.WriteString("\n")
		for _, dep := range step.DependsOn {
			fmt.Fprintf(b, "    • %s\n", dep)
		}
	}

	if d := m.diffs[step.ID]; d != "" {
		b.WriteString("\n")
		b.WriteString(diffStyle.Render(d))
		b.WriteString("\n")
	}
}

func impactOf(step plan.Step) string {
	if step.Impact == "" {
		return "unrated"
	}
	return string(step.Impact)
}

// RunPlanReview launches an interactive review of p. diffs, keyed by step
// id, are shown in the step detail view.
func RunPlanReview(p *plan.Plan, diffs map[string]string) (*PlanReviewResult, error) {
	if len(p.Steps) == 0 {
		return &PlanReviewResult{Approved: true}, nil
	}

	program := tea.NewProgram(newPlanReviewModel(p, diffs))
	finalModel, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("running plan review UI: %w", err)
	}

	m, ok := finalModel.(planReviewModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type: %T", finalModel)
	}
	if m.result != nil {
		return m.result, nil
	}
	return &PlanReviewResult{Approved: false, Reason: "Review ended without a decision"}, nil
}
