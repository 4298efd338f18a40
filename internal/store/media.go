package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Media lifecycle states. A record moves pending -> delivered -> archived;
// the sweep may archive a pending record directly when it claims the file.
const (
	MediaPending   = "pending"
	MediaDelivered = "delivered"
	MediaArchived  = "archived"
)

const (
	MediaKindAudio = "audio"
	MediaKindImage = "image"
)

// MediaRecord tracks one generated asset so delivery and archival state is
// queryable instead of inferred from directory scans.
type MediaRecord struct {
	ID       string    `json:"id"`
	Owner    string    `json:"owner"`
	Kind     string    `json:"kind"`
	Filename string    `json:"filename"`
	Status   string    `json:"status"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// MediaIndex is a small persisted index of generated media, keyed by id,
// with the same atomic write discipline as the conversation store.
type MediaIndex struct {
	mu      sync.Mutex
	path    string
	records map[string]*MediaRecord
}

func NewMediaIndex(path string) (*MediaIndex, error) {
	idx := &MediaIndex{path: path, records: make(map[string]*MediaRecord)}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("read media index: %w", err)
	}
	if err := json.Unmarshal(b, &idx.records); err != nil {
		return nil, fmt.Errorf("parse media index %s: %w", path, err)
	}
	return idx, nil
}

// Add registers a freshly generated asset as pending and returns its id.
func (m *MediaIndex) Add(owner, kind, filename string) (string, error) {
	now := time.Now()
	rec := &MediaRecord{
		ID:       uuid.NewString(),
		Owner:    owner,
		Kind:     kind,
		Filename: filename,
		Status:   MediaPending,
		Created:  now,
		Updated:  now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return rec.ID, m.persistLocked()
}

func (m *MediaIndex) MarkDelivered(id string) error { return m.setStatus(id, MediaDelivered) }
func (m *MediaIndex) MarkArchived(id string) error  { return m.setStatus(id, MediaArchived) }

func (m *MediaIndex) setStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("unknown media id %s", id)
	}
	rec.Status = status
	rec.Updated = time.Now()
	return m.persistLocked()
}

// Lookup finds the record for a filename, if any.
func (m *MediaIndex) Lookup(filename string) (MediaRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.Filename == filename {
			return *rec, true
		}
	}
	return MediaRecord{}, false
}

// OwnerOf resolves the recipient a filename belongs to.
func (m *MediaIndex) OwnerOf(filename string) (string, bool) {
	rec, ok := m.Lookup(filename)
	if !ok {
		return "", false
	}
	return rec.Owner, true
}

func (m *MediaIndex) persistLocked() error {
	b, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
