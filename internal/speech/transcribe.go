package speech

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	downloadTimeout  = 30 * time.Second
	transcodeTimeout = 15 * time.Second
)

// Transcriber turns a remote voice-note URL into text. Every failure is
// logged and reported as ok=false; nothing propagates to the webhook caller.
type Transcriber struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	language   string
	// Twilio media URLs require basic auth to fetch.
	accountSID string
	authToken  string
	// Scratch directory for downloaded and transcoded files; defaults to the
	// system temp dir.
	scratchDir string
}

func NewTranscriber(client *openai.Client, model, language, accountSID, authToken string) *Transcriber {
	return &Transcriber{
		client:     client,
		httpClient: &http.Client{Timeout: downloadTimeout},
		model:      model,
		language:   language,
		accountSID: accountSID,
		authToken:  authToken,
	}
}

// Transcribe downloads the audio at audioURL, normalizes it to 16kHz mono WAV
// and feeds it to the transcription backend. Temp files are removed on every
// exit path.
func (t *Transcriber) Transcribe(ctx context.Context, audioURL, sender string) (string, bool) {
	if strings.TrimSpace(audioURL) == "" {
		log.Println("transcription: empty audio URL")
		return "", false
	}

	rawPath, ok := t.download(ctx, audioURL)
	if !ok {
		return "", false
	}
	defer os.Remove(rawPath)

	wavPath, ok := t.transcode(ctx, rawPath)
	if !ok {
		return "", false
	}
	defer os.Remove(wavPath)

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: wavPath,
		Language: t.language,
	})
	if err != nil {
		log.Printf("transcription backend error for %s: %v", sender, err)
		return "", false
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		log.Printf("transcription: backend returned no speech for %s", sender)
		return "", false
	}
	return text, true
}

// download fetches the remote asset into a scoped temp file and returns its
// path. The caller owns the file.
func (t *Transcriber) download(ctx context.Context, audioURL string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		log.Printf("transcription: bad audio URL %q: %v", audioURL, err)
		return "", false
	}
	if requiresTwilioAuth(audioURL) {
		if t.accountSID == "" || t.authToken == "" {
			log.Println("transcription: Twilio media URL but credentials are missing")
			return "", false
		}
		req.SetBasicAuth(t.accountSID, t.authToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		log.Printf("transcription: download failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("transcription: download returned %d", resp.StatusCode)
		return "", false
	}

	tmp, err := os.CreateTemp(t.scratchDir, "voice_*"+extensionFor(resp.Header.Get("Content-Type")))
	if err != nil {
		log.Printf("transcription: temp file: %v", err)
		return "", false
	}
	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.Printf("transcription: saving download: %v", err)
		return "", false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		log.Printf("transcription: closing temp file: %v", err)
		return "", false
	}
	return tmp.Name(), true
}

// transcode converts the downloaded container to canonical 16kHz mono PCM WAV
// using an external ffmpeg bounded to transcodeTimeout.
func (t *Transcriber) transcode(ctx context.Context, srcPath string) (string, bool) {
	wav, err := os.CreateTemp(t.scratchDir, "voice_*.wav")
	if err != nil {
		log.Printf("transcription: temp wav: %v", err)
		return "", false
	}
	wavPath := wav.Name()
	wav.Close()

	ctx, cancel := context.WithTimeout(ctx, transcodeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", srcPath,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", wavPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(wavPath)
		log.Printf("transcription: ffmpeg failed: %v: %s", err, truncate(string(out), 200))
		return "", false
	}
	if fi, err := os.Stat(wavPath); err != nil || fi.Size() == 0 {
		os.Remove(wavPath)
		log.Println("transcription: ffmpeg produced no output")
		return "", false
	}
	return wavPath, true
}

func requiresTwilioAuth(audioURL string) bool {
	u, err := url.Parse(audioURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), "api.twilio.com")
}

// extensionFor classifies the downloaded container by content type. WhatsApp
// voice notes default to ogg/opus.
func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "ogg"), strings.Contains(ct, "opus"):
		return ".ogg"
	case strings.Contains(ct, "aac"):
		return ".aac"
	case strings.Contains(ct, "mp4"):
		return ".m4a"
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return ".mp3"
	default:
		return ".ogg"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
