package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *FileMemoryStore {
	t.Helper()
	s, err := NewFileMemoryStore(filepath.Join(t.TempDir(), "memory.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestContextUnknownSender(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if got := s.Context("+33600000001", 3); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestContextRendersRecentExchanges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for i := 1; i <= 5; i++ {
		if err := s.SaveMessage("+33600000001", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got := s.Context("+33600000001", 3)
	want := "Utilisateur: q3\nAssistant: a3\nUtilisateur: q4\nAssistant: a4\nUtilisateur: q5\nAssistant: a5"
	if got != want {
		t.Fatalf("context mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestContextFewerThanRequested(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.SaveMessage("+336", "bonjour", "salut"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := s.Context("+336", 10)
	if strings.Count(got, "Utilisateur:") != 1 {
		t.Fatalf("expected one exchange, got %q", got)
	}
}

func TestSaveMessageCapsHistory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for i := 0; i < maxExchanges+7; i++ {
		if err := s.SaveMessage("+336", fmt.Sprintf("q%d", i), "a"); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	conv := s.conversations["+336"]
	if len(conv.Messages) != maxExchanges {
		t.Fatalf("expected %d messages, got %d", maxExchanges, len(conv.Messages))
	}
	if conv.Messages[0].User != fmt.Sprintf("q%d", 7) {
		t.Fatalf("expected oldest surviving message q7, got %q", conv.Messages[0].User)
	}
}

func TestStoreSurvivesReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := NewFileMemoryStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.SaveMessage("+336", "question", "réponse"); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewFileMemoryStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Context("+336", 3); !strings.Contains(got, "Assistant: réponse") {
		t.Fatalf("reloaded context missing saved exchange: %q", got)
	}
}

func TestContextIsolatedPerSender(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.SaveMessage("+111111111", "secret", "ok"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := s.Context("+222222222", 3); got != "" {
		t.Fatalf("context leaked across senders: %q", got)
	}
}
