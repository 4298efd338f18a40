package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Externally reachable base URL (e.g. an ngrok tunnel). Media URLs handed
	// to the messaging backend are built from it.
	PublicBaseURL string

	// OpenAI (chat completion, Whisper STT, primary TTS)
	OpenAIAPIKey string
	Model        string
	STTModel     string
	TTSModel     string
	TTSVoice     string

	// ElevenLabs (fallback TTS)
	ElevenAPIKey  string
	ElevenVoiceID string
	ElevenModel   string

	// Twilio messaging backend
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string

	// Optional higher-reliability image host
	ImgbbAPIKey string

	// Spoken and synthesized language
	Language string

	// Database (optional conversation store)
	DatabaseURL string

	// Persisted state
	MemoryFile     string
	MediaIndexFile string
	ImageDir       string
	AudioDir       string
	PersonaFile    string

	SweepInterval time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:                 getEnvDefault("PORT", "5000"),
		AllowedOrigin:        getEnvDefault("ALLOWED_ORIGIN", "*"),
		PublicBaseURL:        getEnvDefault("PUBLIC_BASE_URL", "http://localhost:5000"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		Model:                getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		STTModel:             getEnvDefault("OPENAI_STT_MODEL", "whisper-1"),
		TTSModel:             getEnvDefault("OPENAI_TTS_MODEL", "tts-1"),
		TTSVoice:             getEnvDefault("OPENAI_TTS_VOICE", "alloy"),
		ElevenAPIKey:         os.Getenv("ELEVEN_API_KEY"),
		ElevenVoiceID:        os.Getenv("ELEVEN_VOICE_ID"),
		ElevenModel:          getEnvDefault("ELEVEN_MODEL_ID", "eleven_multilingual_v2"),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		ImgbbAPIKey:          os.Getenv("IMGBB_API_KEY"),
		Language:             getEnvDefault("BOT_LANGUAGE", "fr"),
		DatabaseURL:          os.Getenv("DB_URL"),
		MemoryFile:           getEnvDefault("MEMORY_FILE", "data/chat_memory.json"),
		MediaIndexFile:       getEnvDefault("MEDIA_INDEX_FILE", "data/media_index.json"),
		ImageDir:             getEnvDefault("IMAGE_DIR", "puter_images"),
		AudioDir:             getEnvDefault("AUDIO_DIR", "audio_files"),
		PersonaFile:          getEnvDefault("PERSONA_FILE", "prompts/persona.yaml"),
		SweepInterval:        getEnvDurationDefault("SWEEP_INTERVAL", time.Minute),
	}
	if cfg.OpenAIAPIKey == "" {
		log.Println("warning: OPENAI_API_KEY is not set; chat, transcription and synthesis will fail until provided")
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioWhatsAppNumber == "" {
		log.Println("warning: Twilio credentials missing; WhatsApp delivery is disabled")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		log.Printf("warning: invalid %s value %q, using default", key, v)
	}
	return def
}
