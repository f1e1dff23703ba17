package session

import (
	"testing"

	"github.com/kong/kaictl/internal/event"
	"github.com/stretchr/testify/assert"
)

func TestFormatAnswers(t *testing.T) {
	q := &PendingQuestion{Questions: []event.Question{
		{Question: "Which environment?", Header: "Env"},
		{Question: "Which regions?", Header: "Regions", MultiSelect: true},
		{Question: "Proceed with migration?"},
	}}

	tests := []struct {
		name    string
		answers []Answer
		want    string
	}{
		{
			name:    "single answer",
			answers: []Answer{{Header: "Env", Values: []string{"staging"}}},
			want:    "**Env**: staging",
		},
		{
			name: "follows question order",
			answers: []Answer{
				{Header: "Regions", Values: []string{"us", "eu"}},
				{Header: "Env", Values: []string{"prod"}},
			},
			want: "**Env**: prod\n**Regions**: us, eu",
		},
		{
			name:    "question text stands in for a missing header",
			answers: []Answer{{Header: "Proceed with migration?", Values: []string{"Yes"}}},
			want:    "**Proceed with migration?**: Yes",
		},
		{
			name: "unknown headers are kept after known ones",
			answers: []Answer{
				{Header: "Notes", Values: []string{"be careful"}},
				{Header: "Env", Values: []string{" dev "}},
			},
			want: "**Env**: dev\n**Notes**: be careful",
		},
		{
			name:    "blank values are skipped",
			answers: []Answer{{Header: "Env", Values: []string{" ", ""}}},
			want:    SkipMessage,
		},
		{
			name: "nothing answered",
			want: SkipMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAnswers(q, tt.answers))
		})
	}
}

func TestFormatAnswersWithoutQuestion(t *testing.T) {
	got := FormatAnswers(nil, []Answer{{Header: "Env", Values: []string{"qa"}}})
	assert.Equal(t, "**Env**: qa", got)
}
