package research

import (
	"math"
	"strings"

	"github.com/atelislab/atelis/internal/history"
)

// Metrics summarizes one student's tutoring dialogue for later analysis.
// Only visible dialogue turns count; analysis prompts and seeded tutor
// instructions are excluded.
type Metrics struct {
	StudentID        string  `json:"student_id"`
	Turns            int     `json:"turns"`
	StudentTurns     int     `json:"student_turns"`
	AITurns          int     `json:"ai_turns"`
	AvgWordsStudent  float64 `json:"avg_words_student"`
	AvgWordsAI       float64 `json:"avg_words_ai"`
	AIQuestions      int     `json:"ai_questions"`
	ExplorationRatio float64 `json:"exploration_ratio"` // % of AI turns that ask a question
}

func isDialogueTurn(t history.Turn) bool {
	return t.Visible && t.Dialogue
}

// Compute derives dialogue metrics from a student's full turn history.
func Compute(studentID string, turns []history.Turn) Metrics {
	m := Metrics{StudentID: studentID}
	var studentWords, aiWords int
	for _, t := range turns {
		if !isDialogueTurn(t) {
			continue
		}
		m.Turns++
		words := countWords(t.Text)
		switch t.Role {
		case history.RoleUser:
			m.StudentTurns++
			studentWords += words
		case history.RoleAssistant:
			m.AITurns++
			aiWords += words
			if isQuestion(t.Text) {
				m.AIQuestions++
			}
		}
	}
	if m.StudentTurns > 0 {
		m.AvgWordsStudent = round2(float64(studentWords) / float64(m.StudentTurns))
	}
	if m.AITurns > 0 {
		m.AvgWordsAI = round2(float64(aiWords) / float64(m.AITurns))
		m.ExplorationRatio = round2(float64(m.AIQuestions) / float64(m.AITurns) * 100)
	}
	return m
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// isQuestion flags a tutor turn that asks the student something.
func isQuestion(text string) bool {
	return strings.Contains(text, "?")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
