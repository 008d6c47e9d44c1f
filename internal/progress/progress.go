// Package progress renders plan runs on a terminal.
package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/stagehand/internal/checkpoint"
	"github.com/felixgeelhaar/stagehand/internal/task"
	"github.com/felixgeelhaar/stagehand/internal/txn"
)

// Indicator tracks a plan run from its progress events and displays it
type Indicator struct {
	writer      io.Writer
	state       *checkpoint.State
	total       int
	phase       txn.Phase
	startTime   time.Time
	mu          sync.Mutex
	showSpinner bool
	spinnerIdx  int
	stopChan    chan struct{}
	stopOnce    sync.Once
	stopped     bool
	isCI        bool
	now         func() time.Time
}

// Config holds configuration for progress indicator
type Config struct {
	Writer      io.Writer
	ShowSpinner bool
	IsCI        bool // line-per-event output without animation
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const rule = "═══════════════════════════════════════════════════════════"

// NewIndicator creates a new progress indicator
func NewIndicator(cfg Config) *Indicator {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	if !cfg.IsCI {
		cfg.IsCI = os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	}

	return &Indicator{
		writer:      cfg.Writer,
		startTime:   time.Now(),
		showSpinner: cfg.ShowSpinner && !cfg.IsCI,
		stopChan:    make(chan struct{}),
		isCI:        cfg.IsCI,
		now:         time.Now,
	}
}

// Start begins the spinner, if enabled
func (p *Indicator) Start() {
	if p.showSpinner {
		go p.spinnerLoop()
	}
}

// Stop stops the spinner and clears its line
func (p *Indicator) Stop() {
	p.stopOnce.Do(func() {
		if p.showSpinner {
			close(p.stopChan)
			p.mu.Lock()
			p.stopped = true
			fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 80))
			p.mu.Unlock()
		}
	})
}

func (p *Indicator) spinnerLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.stopped {
				p.mu.Unlock()
				return
			}
			if p.state != nil {
				p.renderProgress()
			}
			p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
			p.mu.Unlock()
		}
	}
}

// State returns a copy of the tracked run state, or nil before the first
// event.
func (p *Indicator) State() *checkpoint.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil
	}
	return p.state.Clone()
}

// Progress returns the fraction of steps that finished.
func (p *Indicator) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Indicator) progressLocked() float64 {
	if p.state == nil || p.total == 0 {
		return 0
	}
	finished := len(p.state.CompletedSteps()) + len(p.state.FailedSteps()) + len(p.state.BlockedSteps())
	return float64(finished) / float64(p.total)
}

func (p *Indicator) renderProgress() {
	progress := p.progressLocked()
	completed := len(p.state.CompletedSteps())
	failed := len(p.state.FailedSteps())
	elapsed := p.now().Sub(p.startTime)

	var eta string
	if progress > 0 && progress < 1.0 {
		totalEstimated := time.Duration(float64(elapsed) / progress)
		eta = fmt.Sprintf(" | ETA: %s", formatDuration(totalEstimated-elapsed))
	}

	barWidth := 30
	filled := min(int(float64(barWidth)*progress), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(p.writer, "\r%s [%s] %.1f%% | %d/%d steps | ✓ %d | ✗ %d | %s | %s%s",
		spinnerFrames[p.spinnerIdx],
		bar,
		progress*100,
		completed+failed,
		p.total,
		completed,
		failed,
		p.phase,
		formatDuration(elapsed),
		eta,
	)
}

// Handle records a progress event. Its signature matches
// txn.ProgressFunc.
func (p *Indicator) Handle(ev txn.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil {
		p.state = checkpoint.NewState(ev.RunID, ev.PlanID, nil)
	}
	if ev.Total > 0 {
		p.total = ev.Total
	}
	p.phase = ev.Phase

	switch ev.Phase {
	case txn.PhaseStep:
		var err error
		if ev.Reason != "" {
			err = errors.New(ev.Reason)
		}
		p.state.UpdateStep(ev.StepID, string(ev.Status), err)
		if p.isCI {
			p.printStepStatus(ev.StepID, ev.Status, ev.Reason)
		}
	case txn.PhaseValidate:
		if p.isCI && ev.Reason != "" {
			fmt.Fprintf(p.writer, "✗ %s [validate] - %s\n", ev.StepID, ev.Reason)
		}
	case txn.PhaseRollback:
		p.state.Finish(checkpoint.StatusRolledBack, ev.StepID, ev.Reason)
		if p.isCI {
			fmt.Fprintf(p.writer, "⟲ rolling back: %s\n", ev.Reason)
		}
	case txn.PhaseCommit:
		p.state.Finish(checkpoint.StatusCommitted, "", "")
		if p.isCI {
			fmt.Fprintln(p.writer, "✓ committed")
		}
	case txn.PhaseSnapshot:
		if p.isCI {
			fmt.Fprintf(p.writer, "● snapshot taken for plan %s\n", ev.PlanID)
		}
	}
}

func statusSymbol(status task.Status) string {
	switch status {
	case task.StatusInProgress:
		return "▶"
	case task.StatusCompleted:
		return "✓"
	case task.StatusFailed:
		return "✗"
	case task.StatusBlocked:
		return "⊘"
	}
	return "⟲"
}

func (p *Indicator) printStepStatus(stepID string, status task.Status, reason string) {
	msg := fmt.Sprintf("%s %s [%s]", statusSymbol(status), stepID, status)
	if reason != "" {
		msg += " - " + reason
	}
	fmt.Fprintln(p.writer, msg)
}

// PrintSummary prints the outcome of a finished run
func (p *Indicator) PrintSummary(res *txn.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	WriteSummary(p.writer, res)
}

// WriteSummary writes the outcome of a finished run to w.
func WriteSummary(w io.Writer, res *txn.Result) {
	if res == nil {
		return
	}
	var completed, failed, blocked int
	for _, s := range res.Steps {
		switch s.Status {
		case task.StatusCompleted:
			completed++
		case task.StatusFailed:
			failed++
		case task.StatusBlocked:
			blocked++
		}
	}

	outcome := "committed"
	switch {
	case res.RolledBack:
		outcome = "rolled back"
	case !res.Success:
		outcome = "rollback failed, workspace may be partially modified"
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Plan Summary")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Plan:            %s\n", res.PlanID)
	fmt.Fprintf(w, "Run:             %s\n", res.RunID)
	fmt.Fprintf(w, "Total Steps:     %d\n", len(res.Steps))
	fmt.Fprintf(w, "Completed:       %d ✓\n", completed)
	fmt.Fprintf(w, "Failed:          %d ✗\n", failed)
	fmt.Fprintf(w, "Blocked:         %d ⊘\n", blocked)
	fmt.Fprintf(w, "Outcome:         %s\n", outcome)
	fmt.Fprintf(w, "Total Time:      %s\n", formatDuration(res.Duration))
	fmt.Fprintln(w, rule)

	if res.FailingStep != "" || res.Reason != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Failing Step:    %s\n", res.FailingStep)
		fmt.Fprintf(w, "Reason:          %s\n", res.Reason)
	}
	if len(res.Patches) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Patches:")
		for _, path := range res.Patches {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
}

// PrintRunInfo prints a recorded run.
func PrintRunInfo(w io.Writer, s *checkpoint.State) {
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "Run:        %s\n", s.RunID)
	fmt.Fprintf(w, "Plan:       %s\n", s.PlanID)
	fmt.Fprintf(w, "Status:     %s\n", s.Status)
	fmt.Fprintf(w, "Snapshot:   %s\n", s.SnapshotID)
	fmt.Fprintf(w, "Started:    %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "  Completed:  %d steps ✓\n", len(s.CompletedSteps()))
	fmt.Fprintf(w, "  Failed:     %d steps ✗\n", len(s.FailedSteps()))
	fmt.Fprintf(w, "  Blocked:    %d steps ⊘\n", len(s.BlockedSteps()))
	fmt.Fprintf(w, "  Pending:    %d steps ⟲\n", len(s.PendingSteps()))
	fmt.Fprintf(w, "  Progress:   %.1f%%\n", s.Progress()*100)
	if s.FailingStep != "" {
		fmt.Fprintf(w, "  Failing:    %s - %s\n", s.FailingStep, s.Reason)
	}
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")

	for _, id := range s.Order {
		st := s.Steps[id]
		line := fmt.Sprintf("%s %s [%s]", statusSymbol(task.Status(st.Status)), id, st.Status)
		if st.Error != "" {
			line += " - " + st.Error
		}
		fmt.Fprintln(w, line)
		for _, a := range st.Artifacts {
			fmt.Fprintf(w, "    %s\n", a)
		}
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d > 0 && d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
