package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatsapp-voice-backend/internal/store"
)

type sentCall struct {
	To       string
	MediaURL string
	Caption  string
}

type fakeSender struct {
	mu       sync.Mutex
	enabled  bool
	err      error
	sent     []sentCall
	notifyCh chan struct{}
}

func (f *fakeSender) Enabled() bool { return f.enabled }

func (f *fakeSender) SendMedia(ctx context.Context, to, mediaURL, caption string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentCall{To: to, MediaURL: mediaURL, Caption: caption})
	f.mu.Unlock()
	if f.notifyCh != nil {
		f.notifyCh <- struct{}{}
	}
	if f.err != nil {
		return "", f.err
	}
	return "MMfake", nil
}

func (f *fakeSender) calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func writeAudio(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func TestSweepDeliversAndArchives(t *testing.T) {
	t.Parallel()
	audioDir := t.TempDir()
	idx, err := store.NewMediaIndex(filepath.Join(t.TempDir(), "media.json"))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	const name = "audio_33612345678_20260101_120000.mp3"
	writeAudio(t, audioDir, name)
	if _, err := idx.Add("+33612345678", store.MediaKindAudio, name); err != nil {
		t.Fatalf("add: %v", err)
	}

	sender := &fakeSender{enabled: true}
	sw := NewSweeper(audioDir, "https://tunnel.example.com/", sender, idx, time.Minute)
	sw.Sweep()

	calls := sender.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(calls))
	}
	if calls[0].To != "+33612345678" {
		t.Errorf("recipient = %q", calls[0].To)
	}
	if want := "https://tunnel.example.com/audio/archives/" + name; calls[0].MediaURL != want {
		t.Errorf("media URL = %q, want %q", calls[0].MediaURL, want)
	}
	if _, err := os.Stat(filepath.Join(audioDir, "archives", name)); err != nil {
		t.Errorf("file not archived: %v", err)
	}
	if _, err := os.Stat(filepath.Join(audioDir, name)); !os.IsNotExist(err) {
		t.Errorf("file still present in audio dir")
	}
	rec, _ := idx.Lookup(name)
	if rec.Status != store.MediaArchived {
		t.Errorf("status = %q, want archived", rec.Status)
	}

	// A second pass has nothing left to claim.
	sw.Sweep()
	if got := len(sender.calls()); got != 1 {
		t.Fatalf("expected no redelivery, got %d total sends", got)
	}
}

func TestSweepRecipientFromFilename(t *testing.T) {
	t.Parallel()
	audioDir := t.TempDir()
	const name = "audio_212608595612_20260101_120000.mp3"
	writeAudio(t, audioDir, name)

	sender := &fakeSender{enabled: true}
	sw := NewSweeper(audioDir, "https://tunnel.example.com", sender, nil, time.Minute)
	sw.Sweep()

	calls := sender.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(calls))
	}
	if calls[0].To != "+212608595612" {
		t.Errorf("recipient = %q", calls[0].To)
	}
}

func TestSweepIgnoresNonAudio(t *testing.T) {
	t.Parallel()
	audioDir := t.TempDir()
	writeAudio(t, audioDir, "notes.txt")
	writeAudio(t, audioDir, "page.html")

	sender := &fakeSender{enabled: true}
	sw := NewSweeper(audioDir, "https://tunnel.example.com", sender, nil, time.Minute)
	sw.Sweep()

	if len(sender.calls()) != 0 {
		t.Fatal("non-audio files must not be delivered")
	}
	if _, err := os.Stat(filepath.Join(audioDir, "notes.txt")); err != nil {
		t.Errorf("non-audio file was moved: %v", err)
	}
}

func TestSweepArchivesUnresolvableFiles(t *testing.T) {
	t.Parallel()
	audioDir := t.TempDir()
	const name = "reply.mp3"
	writeAudio(t, audioDir, name)

	sender := &fakeSender{enabled: true}
	sw := NewSweeper(audioDir, "https://tunnel.example.com", sender, nil, time.Minute)
	sw.Sweep()

	if len(sender.calls()) != 0 {
		t.Fatal("expected no delivery without a recipient")
	}
	if _, err := os.Stat(filepath.Join(audioDir, "archives", name)); err != nil {
		t.Errorf("unresolvable file should still be archived: %v", err)
	}
}
