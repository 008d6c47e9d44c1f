package task

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	"github.com/felixgeelhaar/stagehand/internal/graph"
)

// TimelineEntry summarizes when a task ran.
type TimelineEntry struct {
	TaskID     domain.TaskID `json:"task_id"`
	Title      string        `json:"title"`
	Status     Status        `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Duration is the time between start and finish, zero if either is missing.
func (e TimelineEntry) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// Timeline derives one entry per task, in creation order, from the history.
func (r *Registry) Timeline() []TimelineEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := make(map[domain.TaskID]int, len(r.order))
	entries := make([]TimelineEntry, len(r.order))
	for i, id := range r.order {
		t := r.tasks[id]
		idx[id] = i
		entries[i] = TimelineEntry{TaskID: id, Title: t.Title, Status: t.Status, CreatedAt: t.CreatedAt}
	}
	for _, h := range r.history {
		i, ok := idx[h.TaskID]
		if !ok {
			continue
		}
		at := h.At
		switch {
		case h.To == StatusInProgress && entries[i].StartedAt == nil:
			entries[i].StartedAt = &at
		case h.To.IsTerminal():
			entries[i].FinishedAt = &at
		}
	}
	return entries
}

// WriteTimeline prints the timeline as an aligned table.
func WriteTimeline(w io.Writer, entries []TimelineEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tSTARTED\tDURATION\tTITLE")
	for _, e := range entries {
		started := "-"
		if e.StartedAt != nil {
			started = e.StartedAt.Format(time.TimeOnly)
		}
		dur := "-"
		if d := e.Duration(); d > 0 {
			dur = d.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.TaskID, e.Status, started, dur, e.Title)
	}
	return tw.Flush()
}

var statusColors = map[Status]string{
	StatusPlanned:    "white",
	StatusReady:      "lightblue",
	StatusInProgress: "gold",
	StatusCompleted:  "palegreen",
	StatusFailed:     "lightcoral",
	StatusBlocked:    "lightgray",
}

// WriteDOT renders the registry's dependency graph with one node per task,
// labelled by title and colored by status.
func (r *Registry) WriteDOT(w io.Writer) error {
	tasks := make(map[string]Task)
	for _, t := range r.List() {
		tasks[string(t.ID)] = t
	}
	return graph.WriteDOT(w, r.Graph(), graph.DOTOptions{
		Label: func(id string) string {
			t := tasks[id]
			if t.Title == "" {
				return fmt.Sprintf("%s\n(%s)", id, t.Status)
			}
			return fmt.Sprintf("%s\n(%s)", t.Title, t.Status)
		},
		Color: func(id string) string { return statusColors[tasks[id].Status] },
	})
}
