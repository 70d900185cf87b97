package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

// TestLoadUnknownStudent verifies a student with no history yields an empty
// slice, not an error.
func TestLoadUnknownStudent(t *testing.T) {
	s := newTestStore(t)

	turns, err := s.Load("brand_new_user")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d turns, want 0", len(turns))
	}
}

// TestAppendPreservesOrder appends turns across multiple calls and verifies
// Load returns them in append order.
func TestAppendPreservesOrder(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("alice", Turn{Role: RoleUser, Text: "first"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("alice",
		Turn{Role: RoleAssistant, Text: "second"},
		Turn{Role: RoleUser, Text: "third"},
	); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(turns) != len(want) {
		t.Fatalf("got %d turns, want %d", len(turns), len(want))
	}
	for i, w := range want {
		if turns[i].Text != w {
			t.Errorf("turn %d text = %q, want %q", i, turns[i].Text, w)
		}
		if turns[i].ID == "" {
			t.Errorf("turn %d has empty id", i)
		}
		if turns[i].CreatedAt.IsZero() {
			t.Errorf("turn %d has zero timestamp", i)
		}
	}
}

// TestAppendInvalidRole verifies roles outside user/assistant are rejected
// before anything is written.
func TestAppendInvalidRole(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("alice", Turn{Role: "system", Text: "nope"}); err == nil {
		t.Fatal("expected error for invalid role")
	}

	turns, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("rejected append still wrote %d turns", len(turns))
	}
}

// TestInvalidStudentID verifies path-escaping ids are rejected.
func TestInvalidStudentID(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", "..", "a/b", `a\b`, ".hidden"} {
		if err := s.Append(id, Turn{Role: RoleUser, Text: "x"}); err == nil {
			t.Errorf("Append(%q) succeeded, want error", id)
		}
		if _, err := s.Load(id); err == nil {
			t.Errorf("Load(%q) succeeded, want error", id)
		}
	}
}

// TestConcurrentAppendsSameStudent runs concurrent appends for one student
// and verifies no turn is lost or corrupted.
func TestConcurrentAppendsSameStudent(t *testing.T) {
	s := newTestStore(t)
	const n = 25

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Append("alice", Turn{Role: RoleUser, Text: fmt.Sprintf("turn %d", i)})
			if err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	turns, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load after concurrent appends: %v", err)
	}
	if len(turns) != n {
		t.Errorf("got %d turns, want %d", len(turns), n)
	}
	for i, turn := range turns {
		if turn.Text == "" || turn.Role != RoleUser {
			t.Errorf("turn %d is malformed: %+v", i, turn)
		}
	}
}

// TestConcurrentAppendsDifferentStudents verifies appends for different
// students proceed independently.
func TestConcurrentAppendsDifferentStudents(t *testing.T) {
	s := newTestStore(t)
	students := []string{"a01", "a02", "a03", "a04"}
	const perStudent = 10

	var wg sync.WaitGroup
	for _, id := range students {
		for i := range perStudent {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Append(id, Turn{Role: RoleUser, Text: fmt.Sprintf("%s-%d", id, i)}); err != nil {
					t.Errorf("Append(%s): %v", id, err)
				}
			}()
		}
	}
	wg.Wait()

	for _, id := range students {
		turns, err := s.Load(id)
		if err != nil {
			t.Fatalf("Load(%s): %v", id, err)
		}
		if len(turns) != perStudent {
			t.Errorf("student %s: got %d turns, want %d", id, len(turns), perStudent)
		}
	}
}

// TestCorruptedHistory verifies malformed and schema-mismatched records
// surface ErrCorrupted instead of being silently discarded.
func TestCorruptedHistory(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"truncated", `{"schema":1,"messages":[{"role":"user"`},
		{"wrong schema", `{"schema":99,"messages":[]}`},
		{"bad role", `{"schema":1,"messages":[{"id":"x","role":"robot","text":"hi"}]}`},
		{"not json", `hello`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			dir := s.StudentDir("alice")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "messages.json"), []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := s.Load("alice")
			if !errors.Is(err, ErrCorrupted) {
				t.Errorf("Load error = %v, want ErrCorrupted", err)
			}
		})
	}
}

// TestCorruptionScopedToStudent verifies one student's corrupt record does
// not affect another student.
func TestCorruptionScopedToStudent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("bob", Turn{Role: RoleUser, Text: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dir := s.StudentDir("alice")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "messages.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load("alice"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("Load(alice) error = %v, want ErrCorrupted", err)
	}
	turns, err := s.Load("bob")
	if err != nil {
		t.Fatalf("Load(bob): %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("bob has %d turns, want 1", len(turns))
	}
}

// TestStateRoundTrip saves and reloads a session state snapshot.
func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	state, err := s.LoadState("alice")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state != nil {
		t.Fatalf("LoadState before save = %+v, want nil", state)
	}

	in := SessionState{
		Classification: "social",
		Description:    "contest poster set",
		Files: []ImageDescriptor{
			{Filename: "poster.png", Type: "instagram", Size: 2048},
		},
		Analysis: "Looks promising.",
	}
	if err := s.SaveState("alice", in); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	out, err := s.LoadState("alice")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if out == nil {
		t.Fatal("LoadState returned nil after save")
	}
	if out.Classification != in.Classification || out.Description != in.Description {
		t.Errorf("state mismatch: got %+v", out)
	}
	if len(out.Files) != 1 || out.Files[0].Type != "instagram" {
		t.Errorf("files mismatch: got %+v", out.Files)
	}
	if out.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

// TestSaveFileCollision verifies a second upload with the same name gets a
// distinct path instead of overwriting the first.
func TestSaveFileCollision(t *testing.T) {
	s := newTestStore(t)

	p1, err := s.SaveFile("alice", "cover.png", []byte("one"))
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	p2, err := s.SaveFile("alice", "cover.png", []byte("two"))
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	if p1 == p2 {
		t.Fatalf("colliding uploads share path %q", p1)
	}
	data, err := os.ReadFile(s.FilePath("alice", p1))
	if err != nil {
		t.Fatalf("reading first upload: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("first upload overwritten: %q", data)
	}
}

// TestPersistedFormat pins the on-disk JSON shape research tooling consumes.
func TestPersistedFormat(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("a01", Turn{Role: RoleUser, Text: "hola", Visible: true, Dialogue: true}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.StudentDir("a01"), "messages.json"))
	if err != nil {
		t.Fatalf("reading messages.json: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("messages.json is not a JSON object: %v", err)
	}
	if _, ok := doc["schema"]; !ok {
		t.Error("messages.json missing schema field")
	}
	var msgs []map[string]any
	if err := json.Unmarshal(doc["messages"], &msgs); err != nil {
		t.Fatalf("messages field: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	for _, field := range []string{"id", "role", "text", "visible", "created_at"} {
		if _, ok := msgs[0][field]; !ok {
			t.Errorf("message missing %q field", field)
		}
	}
}

// TestListStudents verifies listing returns sorted ids and tolerates a
// missing root.
func TestListStudents(t *testing.T) {
	s := newTestStore(t)

	ids, err := s.ListStudents()
	if err != nil {
		t.Fatalf("ListStudents on empty store: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no students, got %v", ids)
	}

	for _, id := range []string{"b02", "a01"} {
		if err := s.Append(id, Turn{Role: RoleUser, Text: "x"}); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	ids, err = s.ListStudents()
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a01" || ids[1] != "b02" {
		t.Errorf("ListStudents = %v, want [a01 b02]", ids)
	}
}
