package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusPaused, true},
		{StatusQueued, StatusCancelled, true},
		{StatusRunning, StatusPaused, true},
		{StatusPaused, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusPaused, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusPaused, StatusQueued, false},
		{StatusRunning, StatusRunning, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCancelled, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusRunning, Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
			got, changed := Transition(tt.from, tt.to)
			assert.Equal(t, tt.want, changed)
			if tt.want {
				assert.Equal(t, tt.to, got)
			} else {
				assert.Equal(t, tt.from, got)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"queued":      StatusQueued,
		"in_progress": StatusRunning,
		"Running":     StatusRunning,
		"waiting":     StatusPaused,
		"succeeded":   StatusCompleted,
		"error":       StatusFailed,
		" canceled ":  StatusCancelled,
	}
	for raw, want := range tests {
		got, ok := ParseStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := ParseStatus("thinking")
	assert.False(t, ok)
}
