package exec

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/stagehand/internal/domain"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

// TaskResult is the outcome of one requested task.
type TaskResult struct {
	TaskID     domain.TaskID `json:"task_id"`
	Status     task.Status   `json:"status"`
	Output     Output        `json:"output,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Duration   time.Duration `json:"duration"`
}

// Report summarizes one Execute call.
type Report struct {
	// Requested holds the requested ids in request order, without duplicates.
	Requested     []domain.TaskID               `json:"requested"`
	Results       map[domain.TaskID]*TaskResult `json:"results"`
	DispatchOrder []domain.TaskID               `json:"dispatch_order"`
	AllSucceeded  bool                          `json:"all_succeeded"`
	MaxInFlight   int                           `json:"max_in_flight"`
	Cancelled     bool                          `json:"cancelled"`
	StartTime     time.Time                     `json:"start_time"`
	EndTime       time.Time                     `json:"end_time"`
}

// Result returns the outcome for id.
func (r *Report) Result(id domain.TaskID) (*TaskResult, bool) {
	res, ok := r.Results[id]
	return res, ok
}

func (r *Report) withStatus(s task.Status) []domain.TaskID {
	var ids []domain.TaskID
	for _, id := range r.Requested {
		if res, ok := r.Results[id]; ok && res.Status == s {
			ids = append(ids, id)
		}
	}
	return ids
}

// Completed returns the completed tasks in request order.
func (r *Report) Completed() []domain.TaskID { return r.withStatus(task.StatusCompleted) }

// Failed returns the failed tasks in request order.
func (r *Report) Failed() []domain.TaskID { return r.withStatus(task.StatusFailed) }

// Blocked returns the blocked tasks in request order.
func (r *Report) Blocked() []domain.TaskID { return r.withStatus(task.StatusBlocked) }

// Counts tallies results by status.
func (r *Report) Counts() map[task.Status]int {
	counts := make(map[task.Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// WriteSummary outputs execution summary
func (r *Report) WriteSummary(w io.Writer) {
	sep := strings.Repeat("=", 60)
	counts := r.Counts()

	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, "Execution Summary")
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "Total Tasks:    %d\n", len(r.Requested))
	fmt.Fprintf(w, "Completed:      %d\n", counts[task.StatusCompleted])
	fmt.Fprintf(w, "Failed:         %d\n", counts[task.StatusFailed])
	fmt.Fprintf(w, "Blocked:        %d\n", counts[task.StatusBlocked])
	fmt.Fprintf(w, "Max In Flight:  %d\n", r.MaxInFlight)
	fmt.Fprintf(w, "Duration:       %v\n", r.Duration().Round(time.Millisecond))
	if r.Cancelled {
		fmt.Fprintln(w, "Cancelled:      yes")
	}
	for _, id := range r.Failed() {
		fmt.Fprintf(w, "  ✗ %s: %s\n", id, r.Results[id].Reason)
	}
	for _, id := range r.Blocked() {
		fmt.Fprintf(w, "  ⊘ %s: %s\n", id, r.Results[id].Reason)
	}
	fmt.Fprintln(w, sep)
}
