package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const schemaVersion = 1

const (
	messagesFile = "messages.json"
	stateFile    = "state.json"
	filesDir     = "files"
)

// messagesDoc is the on-disk shape of messages.json. The format is plain
// indented JSON so research tooling can consume it without this codebase.
type messagesDoc struct {
	Schema   int    `json:"schema"`
	Messages []Turn `json:"messages"`
}

// Store persists per-student conversation turns and session state under
// <root>/students/<id>/. Appends for the same student are serialized;
// different students never block each other.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{
		root:  filepath.Join(dataDir, "students"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) userLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// validID rejects ids that would escape the store root or collide with
// reserved names.
func validID(id string) error {
	if id == "" {
		return fmt.Errorf("empty student id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid student id %q", id)
	}
	return nil
}

// StudentDir returns the directory holding a student's record.
func (s *Store) StudentDir(id string) string {
	return filepath.Join(s.root, id)
}

// Append durably appends turns to a student's history. Missing turn IDs and
// timestamps are filled in. The write is atomic (temp file + fsync + rename)
// and never truncates existing turns.
func (s *Store) Append(id string, turns ...Turn) error {
	if err := validID(id); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	l := s.userLock(id)
	l.Lock()
	defer l.Unlock()

	doc, err := s.readMessages(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("invalid turn role %q", t.Role)
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		doc.Messages = append(doc.Messages, t)
	}

	dir := s.StudentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating student dir: %w", err)
	}
	return writeJSONAtomic(filepath.Join(dir, messagesFile), doc)
}

// Load returns a student's turns in append order. A student with no history
// yields an empty slice, not an error. A malformed record yields an error
// wrapping ErrCorrupted.
func (s *Store) Load(id string) ([]Turn, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	l := s.userLock(id)
	l.Lock()
	defer l.Unlock()

	doc, err := s.readMessages(id)
	if err != nil {
		return nil, err
	}
	return doc.Messages, nil
}

func (s *Store) readMessages(id string) (*messagesDoc, error) {
	path := filepath.Join(s.StudentDir(id), messagesFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &messagesDoc{Schema: schemaVersion, Messages: []Turn{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc messagesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %v: %w", path, err, ErrCorrupted)
	}
	if doc.Schema != schemaVersion {
		return nil, fmt.Errorf("%s: unsupported schema %d: %w", path, doc.Schema, ErrCorrupted)
	}
	for i, t := range doc.Messages {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return nil, fmt.Errorf("%s: turn %d has invalid role %q: %w", path, i, t.Role, ErrCorrupted)
		}
	}
	if doc.Messages == nil {
		doc.Messages = []Turn{}
	}
	return &doc, nil
}

// SaveState replaces the student's session state snapshot.
func (s *Store) SaveState(id string, state SessionState) error {
	if err := validID(id); err != nil {
		return err
	}

	l := s.userLock(id)
	l.Lock()
	defer l.Unlock()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	dir := s.StudentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating student dir: %w", err)
	}
	return writeJSONAtomic(filepath.Join(dir, stateFile), state)
}

// LoadState returns the student's last session snapshot, or nil if none
// was ever saved.
func (s *Store) LoadState(id string) (*SessionState, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	l := s.userLock(id)
	l.Lock()
	defer l.Unlock()

	path := filepath.Join(s.StudentDir(id), stateFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing %s: %v: %w", path, err, ErrCorrupted)
	}
	return &state, nil
}

// SaveFile persists an uploaded file under the student's files/ directory and
// returns its path relative to the student dir. Name collisions get a
// numeric suffix rather than overwriting an earlier upload.
func (s *Store) SaveFile(id, name string, data []byte) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	l := s.userLock(id)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(s.StudentDir(id), filesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating files dir: %w", err)
	}

	target := name
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, target)); os.IsNotExist(err) {
			break
		}
		target = fmt.Sprintf("%s-%d%s", base, n, ext)
	}

	if err := os.WriteFile(filepath.Join(dir, target), data, 0o644); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return filepath.Join(filesDir, target), nil
}

// FilePath resolves a path previously returned by SaveFile to an absolute
// location on disk.
func (s *Store) FilePath(id, rel string) string {
	return filepath.Join(s.StudentDir(id), rel)
}

// ListStudents returns the ids of all students with a record on disk,
// sorted for stable output.
func (s *Store) ListStudents() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading students dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// writeJSONAtomic writes v as indented JSON via a temp file, fsyncs, then
// renames into place so readers never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
