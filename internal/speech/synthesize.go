package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrTextTooShort rejects near-empty input before any engine call; the
// downstream engines choke on it anyway.
var ErrTextTooShort = errors.New("text too short for synthesis")

const minSynthesisChars = 5

// The downstream engines mishandle pictographic symbols, so they are stripped
// before synthesis.
var pictographPattern = regexp.MustCompile(`[\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}` +
	`\x{1F680}-\x{1F6FF}\x{1F700}-\x{1F77F}\x{1F780}-\x{1F7FF}\x{1F800}-\x{1F8FF}` +
	`\x{1F900}-\x{1F9FF}\x{1FA00}-\x{1FAFF}\x{2702}-\x{27B0}]+`)

// StripPictographs removes emoji and related symbol ranges from text.
func StripPictographs(text string) string {
	return strings.TrimSpace(pictographPattern.ReplaceAllString(text, ""))
}

// Strategy is one synthesis engine. Strategies are tried in order; the first
// success wins.
type Strategy interface {
	Name() string
	Synthesize(ctx context.Context, text, outputPath string) error
}

// Synthesizer runs an ordered list of synthesis strategies.
type Synthesizer struct {
	strategies []Strategy
}

func NewSynthesizer(strategies ...Strategy) *Synthesizer {
	return &Synthesizer{strategies: strategies}
}

// Synthesize writes spoken audio for text at outputPath. It returns
// ErrTextTooShort for near-empty input, and an aggregate of every strategy
// failure when all engines raise.
func (s *Synthesizer) Synthesize(ctx context.Context, text, outputPath string) error {
	clean := StripPictographs(text)
	if len([]rune(clean)) < minSynthesisChars {
		return ErrTextTooShort
	}
	var failures []error
	for _, st := range s.strategies {
		err := st.Synthesize(ctx, clean, outputPath)
		if err == nil {
			return nil
		}
		log.Printf("synthesis: %s failed: %v", st.Name(), err)
		failures = append(failures, fmt.Errorf("%s: %w", st.Name(), err))
	}
	if len(failures) == 0 {
		return errors.New("no synthesis strategies configured")
	}
	return errors.Join(failures...)
}

// OpenAISpeech is the primary cloud synthesis method.
type OpenAISpeech struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAISpeech(client *openai.Client, model, voice string) *OpenAISpeech {
	return &OpenAISpeech{client: client, model: model, voice: voice}
}

func (o *OpenAISpeech) Name() string { return "openai" }

func (o *OpenAISpeech) Synthesize(ctx context.Context, text, outputPath string) error {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return err
	}
	defer resp.Close()
	return writeAudioFile(outputPath, resp)
}

// ElevenLabs is the fallback synthesis method. It scans the account's voice
// metadata for one matching the target language, falling back to the
// configured default voice.
type ElevenLabs struct {
	apiKey       string
	defaultVoice string
	modelID      string
	language     string
	baseURL      string
	httpClient   *http.Client
}

func NewElevenLabs(apiKey, defaultVoice, modelID, language string) *ElevenLabs {
	return &ElevenLabs{
		apiKey:       apiKey,
		defaultVoice: defaultVoice,
		modelID:      modelID,
		language:     language,
		baseURL:      "https://api.elevenlabs.io",
		httpClient:   &http.Client{Timeout: downloadTimeout},
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, text, outputPath string) error {
	if e.apiKey == "" {
		return errors.New("not configured")
	}
	voiceID := e.pickVoice(ctx)
	if voiceID == "" {
		return errors.New("no voice available")
	}
	payload := map[string]any{
		"text":     text,
		"model_id": e.modelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.7,
		},
		"output_format": "mp3_44100_128",
	}
	b, _ := json.Marshal(payload)
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(bb), 200))
	}
	return writeAudioFile(outputPath, resp.Body)
}

// pickVoice scans /v1/voices for a voice labelled with the target language.
// Any lookup failure falls back to the configured default voice.
func (e *ElevenLabs) pickVoice(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/voices", nil)
	if err != nil {
		return e.defaultVoice
	}
	req.Header.Set("xi-api-key", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return e.defaultVoice
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return e.defaultVoice
	}
	var out struct {
		Voices []struct {
			VoiceID string            `json:"voice_id"`
			Name    string            `json:"name"`
			Labels  map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return e.defaultVoice
	}
	want := strings.ToLower(e.language)
	for _, v := range out.Voices {
		if strings.ToLower(v.Labels["language"]) == want {
			return v.VoiceID
		}
	}
	if e.defaultVoice == "" && len(out.Voices) > 0 {
		return out.Voices[0].VoiceID
	}
	return e.defaultVoice
}

func writeAudioFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
