package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// maxExchanges caps the per-sender history so the backing file cannot grow
// without bound for a single conversation.
const maxExchanges = 10

// DefaultContextSize is how many recent exchanges are injected back into the
// chat backend when no explicit size is requested.
const DefaultContextSize = 3

// Exchange is one user/bot turn.
type Exchange struct {
	User string    `json:"user"`
	Bot  string    `json:"bot"`
	Time time.Time `json:"time"`
}

// Conversation is the per-sender record, keyed by phone number.
type Conversation struct {
	Created  time.Time  `json:"created"`
	Updated  time.Time  `json:"updated"`
	Messages []Exchange `json:"messages"`
}

// ConversationStore is what the webhook handler needs from conversation
// persistence; satisfied by the file store and the optional database store.
type ConversationStore interface {
	Context(sender string, max int) string
	SaveMessage(sender, userText, botText string) error
}

// FileMemoryStore persists every conversation in a single JSON document.
// All access goes through one mutex, so racing webhooks for the same sender
// cannot lose appends.
type FileMemoryStore struct {
	mu            sync.Mutex
	path          string
	conversations map[string]*Conversation
}

func NewFileMemoryStore(path string) (*FileMemoryStore, error) {
	s := &FileMemoryStore{path: path, conversations: make(map[string]*Conversation)}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	if err := json.Unmarshal(b, &s.conversations); err != nil {
		return nil, fmt.Errorf("parse memory file %s: %w", path, err)
	}
	return s, nil
}

// Context renders the last max exchanges as alternating Utilisateur/Assistant
// lines. Unknown senders yield an empty string.
func (s *FileMemoryStore) Context(sender string, max int) string {
	if max <= 0 {
		max = DefaultContextSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[sender]
	if !ok || len(conv.Messages) == 0 {
		return ""
	}
	msgs := conv.Messages
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	lines := make([]string, 0, len(msgs)*2)
	for _, m := range msgs {
		lines = append(lines, "Utilisateur: "+m.User)
		lines = append(lines, "Assistant: "+m.Bot)
	}
	return strings.Join(lines, "\n")
}

// SaveMessage appends one exchange, trims to the most recent maxExchanges and
// persists synchronously.
func (s *FileMemoryStore) SaveMessage(sender, userText, botText string) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[sender]
	if !ok {
		conv = &Conversation{Created: now}
		s.conversations[sender] = conv
	}
	conv.Messages = append(conv.Messages, Exchange{User: userText, Bot: botText, Time: now})
	if len(conv.Messages) > maxExchanges {
		conv.Messages = conv.Messages[len(conv.Messages)-maxExchanges:]
	}
	conv.Updated = now
	return s.persistLocked()
}

func (s *FileMemoryStore) persistLocked() error {
	b, err := json.MarshalIndent(s.conversations, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
