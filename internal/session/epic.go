package session

import (
	"fmt"
	"slices"

	"github.com/kong/kaictl/internal/event"
)

// EpicSequence tracks progress through an ordered batch of sub-tasks. Each
// progress frame replaces it wholesale.
type EpicSequence struct {
	TotalTasks       int      `json:"totalTasks"                 yaml:"totalTasks"`
	CurrentIndex     int      `json:"currentIndex"               yaml:"currentIndex"`
	TaskIDs          []string `json:"taskIds"                    yaml:"taskIds"`
	CompletedTaskIDs []string `json:"completedTaskIds,omitempty" yaml:"completedTaskIds,omitempty"`
	FailedTaskIDs    []string `json:"failedTaskIds,omitempty"    yaml:"failedTaskIds,omitempty"`
}

func applyProgress(p event.EpicProgressPayload) *EpicSequence {
	return &EpicSequence{
		TotalTasks:       p.TotalTasks,
		CurrentIndex:     p.CurrentIndex,
		TaskIDs:          slices.Clone(p.TaskIDs),
		CompletedTaskIDs: slices.Clone(p.CompletedTaskIDs),
		FailedTaskIDs:    slices.Clone(p.FailedTaskIDs),
	}
}

// PercentComplete is the share of completed tasks, 0 to 100.
func (e *EpicSequence) PercentComplete() float64 {
	if e == nil || e.TotalTasks <= 0 {
		return 0
	}
	return float64(len(e.CompletedTaskIDs)) / float64(e.TotalTasks) * 100
}

// PercentFailed is the share of failed tasks, 0 to 100.
func (e *EpicSequence) PercentFailed() float64 {
	if e == nil || e.TotalTasks <= 0 {
		return 0
	}
	return float64(len(e.FailedTaskIDs)) / float64(e.TotalTasks) * 100
}

// CurrentTask returns the id of the task at CurrentIndex.
func (e *EpicSequence) CurrentTask() (string, bool) {
	if e == nil || e.CurrentIndex < 0 || e.CurrentIndex >= len(e.TaskIDs) {
		return "", false
	}
	return e.TaskIDs[e.CurrentIndex], true
}

// Finished reports whether every task is either completed or failed.
func (e *EpicSequence) Finished() bool {
	if e == nil || e.TotalTasks <= 0 {
		return false
	}
	return len(e.CompletedTaskIDs)+len(e.FailedTaskIDs) >= e.TotalTasks
}

// Violations lists the ways e breaks the sequence invariants, given the
// previously tracked sequence. It never changes e.
func (e *EpicSequence) Violations(prev *EpicSequence) []string {
	if e == nil {
		return nil
	}
	var out []string

	if prev != nil && e.CurrentIndex < prev.CurrentIndex {
		out = append(out, fmt.Sprintf("current index moved back from %d to %d", prev.CurrentIndex, e.CurrentIndex))
	}

	known := make(map[string]bool, len(e.TaskIDs))
	for _, id := range e.TaskIDs {
		known[id] = true
	}
	completed := make(map[string]bool, len(e.CompletedTaskIDs))
	for _, id := range e.CompletedTaskIDs {
		completed[id] = true
		if !known[id] {
			out = append(out, fmt.Sprintf("completed task %q is not part of the epic", id))
		}
	}
	for _, id := range e.FailedTaskIDs {
		if completed[id] {
			out = append(out, fmt.Sprintf("task %q is both completed and failed", id))
		}
		if !known[id] {
			out = append(out, fmt.Sprintf("failed task %q is not part of the epic", id))
		}
	}
	return out
}
