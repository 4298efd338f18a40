package whatsapp

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"whatsapp-voice-backend/internal/store"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".ogg": true, ".wav": true, ".flac": true, ".m4a": true,
}

// Sweeper periodically redelivers audio files that were generated but never
// confirmed sent, then relocates them under the archive directory. A file is
// claimed by renaming it into the archive before delivery is attempted, so
// the sweep and the inline delivery path cannot both send it.
type Sweeper struct {
	audioDir      string
	archiveDir    string
	publicBaseURL string
	sender        MediaSender
	index         *store.MediaIndex
	interval      time.Duration
	cron          *cron.Cron
}

func NewSweeper(audioDir, publicBaseURL string, sender MediaSender, index *store.MediaIndex, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		audioDir:      audioDir,
		archiveDir:    filepath.Join(audioDir, "archives"),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		sender:        sender,
		index:         index,
		interval:      interval,
	}
}

// Start schedules the periodic sweep.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return fmt.Errorf("schedule archive sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one pass over the audio directory.
func (s *Sweeper) Sweep() {
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		log.Printf("sweep: creating archive dir: %v", err)
		return
	}
	entries, err := os.ReadDir(s.audioDir)
	if err != nil {
		log.Printf("sweep: reading %s: %v", s.audioDir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		s.sweepFile(e.Name())
	}
}

func (s *Sweeper) sweepFile(name string) {
	// The rename is the atomic claim: whoever moves the file owns delivery.
	src := filepath.Join(s.audioDir, name)
	dst := filepath.Join(s.archiveDir, name)
	if err := os.Rename(src, dst); err != nil {
		log.Printf("sweep: could not claim %s: %v", name, err)
		return
	}

	recipient, mediaID := s.resolveRecipient(name)
	if recipient == "" {
		log.Printf("sweep: no recipient for %s, archived without delivery", name)
		return
	}

	audioURL := s.publicBaseURL + "/audio/archives/" + name
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	sid, err := s.sender.SendMedia(ctx, recipient, audioURL, "")
	if err != nil {
		log.Printf("sweep: delivering %s to %s failed: %v", name, recipient, err)
	} else {
		log.Printf("sweep: delivered %s to %s (sid %s)", name, recipient, sid)
	}
	if mediaID != "" && s.index != nil {
		if err := s.index.MarkArchived(mediaID); err != nil {
			log.Printf("sweep: recording archive of %s: %v", mediaID, err)
		}
	}
}

// resolveRecipient prefers the media index, falling back to the historical
// filename convention audio_<digits>_<timestamp>.mp3.
func (s *Sweeper) resolveRecipient(name string) (recipient, mediaID string) {
	if s.index != nil {
		if rec, ok := s.index.Lookup(name); ok && rec.Owner != "" {
			return rec.Owner, rec.ID
		}
	}
	for _, part := range strings.Split(strings.TrimSuffix(name, filepath.Ext(name)), "_") {
		if len(part) >= 9 && isDigits(part) {
			return "+" + part, ""
		}
	}
	return "", ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
