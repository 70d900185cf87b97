package research

import (
	"testing"

	"github.com/atelislab/atelis/internal/history"
)

func dialogueTurn(role, text string) history.Turn {
	return history.Turn{Role: role, Text: text, Visible: true, Dialogue: true}
}

func TestComputeCountsVisibleDialogueOnly(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Text: "analysis prompt", Visible: false},
		{Role: history.RoleAssistant, Text: "analysis reply", Visible: false},
		{Role: history.RoleUser, Text: "tutor instructions", Visible: false, Dialogue: true},
		dialogueTurn(history.RoleAssistant, "Hello! Ready to reflect?"),
		dialogueTurn(history.RoleUser, "yes I am"),
		dialogueTurn(history.RoleAssistant, "What would you improve first?"),
	}

	m := Compute("alice", turns)
	if m.Turns != 3 {
		t.Errorf("Turns = %d, want 3", m.Turns)
	}
	if m.StudentTurns != 1 {
		t.Errorf("StudentTurns = %d, want 1", m.StudentTurns)
	}
	if m.AITurns != 2 {
		t.Errorf("AITurns = %d, want 2", m.AITurns)
	}
}

func TestComputeAverages(t *testing.T) {
	turns := []history.Turn{
		dialogueTurn(history.RoleUser, "one two three four"), // 4 words
		dialogueTurn(history.RoleAssistant, "a b c"),         // 3 words
		dialogueTurn(history.RoleUser, "five six"),           // 2 words
		dialogueTurn(history.RoleAssistant, "d e f g h"),     // 5 words
	}

	m := Compute("alice", turns)
	if m.AvgWordsStudent != 3 {
		t.Errorf("AvgWordsStudent = %v, want 3", m.AvgWordsStudent)
	}
	if m.AvgWordsAI != 4 {
		t.Errorf("AvgWordsAI = %v, want 4", m.AvgWordsAI)
	}
}

func TestComputeExplorationRatio(t *testing.T) {
	turns := []history.Turn{
		dialogueTurn(history.RoleAssistant, "What do you think?"),
		dialogueTurn(history.RoleAssistant, "Good observation."),
		dialogueTurn(history.RoleAssistant, "Why that color?"),
		dialogueTurn(history.RoleAssistant, "I see."),
	}

	m := Compute("alice", turns)
	if m.AIQuestions != 2 {
		t.Errorf("AIQuestions = %d, want 2", m.AIQuestions)
	}
	if m.ExplorationRatio != 50 {
		t.Errorf("ExplorationRatio = %v, want 50", m.ExplorationRatio)
	}
}

func TestComputeEmptyHistory(t *testing.T) {
	m := Compute("alice", nil)
	if m.Turns != 0 || m.AvgWordsStudent != 0 || m.ExplorationRatio != 0 {
		t.Errorf("zero history should produce zero metrics, got %+v", m)
	}
}
