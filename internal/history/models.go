package history

import (
	"errors"
	"time"
)

// ErrCorrupted is returned when a student's persisted record cannot be
// parsed or fails schema validation. It is scoped to that student; other
// students' records are unaffected.
var ErrCorrupted = errors.New("history corrupted")

// Turn roles. Assistant turns are stored as "assistant" regardless of what
// the provider wire format calls them.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one persisted message in a student's conversation. Turns are
// immutable once written; the store only ever appends.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Images    []string  `json:"images,omitempty"` // paths relative to the student dir
	Visible   bool      `json:"visible"`
	Dialogue  bool      `json:"dialogue,omitempty"` // tutoring conversation, not analysis
	CreatedAt time.Time `json:"created_at"`
}

// ImageDescriptor records one uploaded file in the session state snapshot.
type ImageDescriptor struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
}

// SessionState is the last known UI session snapshot for a student. It is
// disposable: the turn history is the durable source of truth.
type SessionState struct {
	Classification string            `json:"classification"`
	Description    string            `json:"description"`
	Files          []ImageDescriptor `json:"files"`
	Analysis       string            `json:"analysis,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
