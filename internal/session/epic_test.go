package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpicSequencePercentages(t *testing.T) {
	tests := []struct {
		name          string
		epic          *EpicSequence
		wantComplete  float64
		wantFailed    float64
		wantFinished  bool
		wantCurrent   string
		wantCurrentOK bool
	}{
		{
			name: "nil",
			epic: nil,
		},
		{
			name: "no tasks",
			epic: &EpicSequence{},
		},
		{
			name: "in progress",
			epic: &EpicSequence{
				TotalTasks:       3,
				CurrentIndex:     1,
				TaskIDs:          []string{"a", "b", "c"},
				CompletedTaskIDs: []string{"a"},
			},
			wantComplete:  100.0 / 3,
			wantCurrent:   "b",
			wantCurrentOK: true,
		},
		{
			name: "finished with a failure",
			epic: &EpicSequence{
				TotalTasks:       2,
				CurrentIndex:     2,
				TaskIDs:          []string{"a", "b"},
				CompletedTaskIDs: []string{"a"},
				FailedTaskIDs:    []string{"b"},
			},
			wantComplete: 50,
			wantFailed:   50,
			wantFinished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantComplete, tt.epic.PercentComplete(), 0.001)
			assert.InDelta(t, tt.wantFailed, tt.epic.PercentFailed(), 0.001)
			assert.Equal(t, tt.wantFinished, tt.epic.Finished())
			current, ok := tt.epic.CurrentTask()
			assert.Equal(t, tt.wantCurrentOK, ok)
			assert.Equal(t, tt.wantCurrent, current)
		})
	}
}

func TestEpicSequenceViolations(t *testing.T) {
	prev := &EpicSequence{TotalTasks: 3, CurrentIndex: 2, TaskIDs: []string{"a", "b", "c"}}

	t.Run("well formed", func(t *testing.T) {
		next := &EpicSequence{
			TotalTasks:       3,
			CurrentIndex:     2,
			TaskIDs:          []string{"a", "b", "c"},
			CompletedTaskIDs: []string{"a", "b"},
		}
		assert.Empty(t, next.Violations(prev))
	})

	t.Run("malformed is reported, not repaired", func(t *testing.T) {
		next := &EpicSequence{
			TotalTasks:       3,
			CurrentIndex:     1,
			TaskIDs:          []string{"a", "b", "c"},
			CompletedTaskIDs: []string{"a", "z"},
			FailedTaskIDs:    []string{"a"},
		}
		assert.Equal(t, []string{
			"current index moved back from 2 to 1",
			`completed task "z" is not part of the epic`,
			`task "a" is both completed and failed`,
		}, next.Violations(prev))
		assert.Equal(t, 1, next.CurrentIndex)
		assert.InDelta(t, 200.0/3, next.PercentComplete(), 0.001)
	})
}
