package session

import (
	"fmt"
	"strings"
)

// SkipMessage is sent when the host declines to answer a pending question.
const SkipMessage = "Please proceed with your best judgment using sensible defaults."

// Answer is the host's reply to one question, keyed by the question header.
type Answer struct {
	Header string   `json:"header" yaml:"header"`
	Values []string `json:"values" yaml:"values"`
}

// FormatAnswers renders answers as the message sent back to the agent: one
// "**header**: value, value" line per answered question, in question order.
// Answers for headers that are not part of the question are appended after.
// With nothing answered the skip message is returned.
func FormatAnswers(q *PendingQuestion, answers []Answer) string {
	byHeader := make(map[string][]string, len(answers))
	var order []string
	for _, a := range answers {
		header := strings.TrimSpace(a.Header)
		values := nonEmpty(a.Values)
		if header == "" || len(values) == 0 {
			continue
		}
		if _, seen := byHeader[header]; !seen {
			order = append(order, header)
		}
		byHeader[header] = append(byHeader[header], values...)
	}

	var lines []string
	emitted := make(map[string]bool, len(byHeader))
	if q != nil {
		for _, question := range q.Questions {
			header := questionHeader(question.Header, question.Question)
			if values, ok := byHeader[header]; ok && !emitted[header] {
				lines = append(lines, formatAnswerLine(header, values))
				emitted[header] = true
			}
		}
	}
	for _, header := range order {
		if !emitted[header] {
			lines = append(lines, formatAnswerLine(header, byHeader[header]))
			emitted[header] = true
		}
	}

	if len(lines) == 0 {
		return SkipMessage
	}
	return strings.Join(lines, "\n")
}

func formatAnswerLine(header string, values []string) string {
	return fmt.Sprintf("**%s**: %s", header, strings.Join(values, ", "))
}

func questionHeader(header, question string) string {
	if h := strings.TrimSpace(header); h != "" {
		return h
	}
	return strings.TrimSpace(question)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
