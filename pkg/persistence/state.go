package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scooked-app/scooked-go/pkg/record"
)

// SnapshotVersion is the current version of the snapshot file format.
const SnapshotVersion = 1

// StoreSnapshot contains the persisted state of a store daemon.
type StoreSnapshot struct {
	// Version is the snapshot file format version.
	Version int `json:"version"`

	// SavedAt is when the snapshot was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Documents maps document paths to session records. A record with a
	// nil end time is still present here: the document exists, the
	// session is just inactive.
	Documents map[string]record.Session `json:"documents,omitempty"`
}

// Document returns the session stored at path.
// The second return value is false when no document exists there.
func (s *StoreSnapshot) Document(path string) (record.Session, bool) {
	if s == nil || s.Documents == nil {
		return record.Session{}, false
	}
	doc, ok := s.Documents[path]
	return doc, ok
}

// SnapshotStore manages persistence of store state to a JSON file.
type SnapshotStore struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotStore creates a new snapshot store.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the snapshot file path.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Save persists the snapshot to disk.
func (s *SnapshotStore) Save(snapshot *StoreSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	snapshot.Version = SnapshotVersion
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the snapshot from disk.
// Returns nil, nil if the file doesn't exist (empty store).
func (s *SnapshotStore) Load() (*StoreSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snapshot := &StoreSnapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Clear removes the snapshot file.
func (s *SnapshotStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
