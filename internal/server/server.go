package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	openai "github.com/sashabaranov/go-openai"

	"whatsapp-voice-backend/internal/config"
	"whatsapp-voice-backend/internal/db"
	"whatsapp-voice-backend/internal/imagegen"
	"whatsapp-voice-backend/internal/reply"
	"whatsapp-voice-backend/internal/speech"
	"whatsapp-voice-backend/internal/store"
	"whatsapp-voice-backend/internal/types"
	"whatsapp-voice-backend/internal/whatsapp"
)

// ReplyGenerator produces the response for one inbound message.
type ReplyGenerator interface {
	Generate(ctx context.Context, message, sender string) reply.Reply
}

// Transcriber converts a remote voice note to text; ok=false on any failure.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL, sender string) (string, bool)
}

// Synthesizer writes spoken audio for text at outputPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outputPath string) error
}

// ImageUploader returns a public URL for a local image, or "" when every
// host fails.
type ImageUploader interface {
	Upload(ctx context.Context, path string) string
}

type Server struct {
	router      *chi.Mux
	cfg         config.Config
	memory      store.ConversationStore
	media       *store.MediaIndex
	transcriber Transcriber
	synth       Synthesizer
	replies     ReplyGenerator
	sender      whatsapp.MediaSender
	worker      *whatsapp.Worker
	sweeper     *whatsapp.Sweeper
	uploader    ImageUploader
	pages       *imagegen.PageGenerator
	database    *db.DB
}

func NewServer(cfg config.Config) (*Server, error) {
	client := openai.NewClient(cfg.OpenAIAPIKey)

	var memory store.ConversationStore
	var database *db.DB
	if cfg.DatabaseURL != "" {
		var err error
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Println("database connection established")
		memory, err = store.NewDatabaseStore(database)
		if err != nil {
			database.Close()
			return nil, err
		}
	} else {
		fileStore, err := store.NewFileMemoryStore(cfg.MemoryFile)
		if err != nil {
			return nil, err
		}
		memory = fileStore
	}

	media, err := store.NewMediaIndex(cfg.MediaIndexFile)
	if err != nil {
		return nil, err
	}

	persona, err := reply.LoadPersona(cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load persona spec: %w", err)
	}
	pages := imagegen.NewPageGenerator(cfg.ImageDir, cfg.PublicBaseURL)

	waClient := whatsapp.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber)
	worker := whatsapp.NewWorker(waClient, media, 0)
	sweeper := whatsapp.NewSweeper(cfg.AudioDir, cfg.PublicBaseURL, waClient, media, cfg.SweepInterval)

	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		memory:      memory,
		media:       media,
		transcriber: speech.NewTranscriber(client, cfg.STTModel, cfg.Language, cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		synth: speech.NewSynthesizer(
			speech.NewOpenAISpeech(client, cfg.TTSModel, cfg.TTSVoice),
			speech.NewElevenLabs(cfg.ElevenAPIKey, cfg.ElevenVoiceID, cfg.ElevenModel, cfg.Language),
		),
		replies:  reply.NewGenerator(client, cfg.Model, persona, pages),
		sender:   waClient,
		worker:   worker,
		sweeper:  sweeper,
		uploader: imagegen.NewUploader(cfg.ImgbbAPIKey),
		pages:    pages,
		database: database,
	}

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	s.routes()
	return s, nil
}

// Start launches the delivery worker and the archive sweep.
func (s *Server) Start(ctx context.Context) error {
	s.worker.Start(ctx)
	return s.sweeper.Start()
}

func (s *Server) Close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.database != nil {
		s.database.Close()
	}
}

func (s *Server) routes() {
	s.router.Get("/", s.handleHome)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/whatsapp", s.handleWhatsApp)
	s.router.Post("/api/process-puter-image", s.handleProcessPuterImage)
	s.router.Post("/api/send-whatsapp-direct", s.handleSendDirect)
	s.router.Get("/api/test-puter", s.handleTestPuter)
	// Static media, each directory under its own prefix
	s.router.Get("/image/{filename}", s.serveFrom(s.cfg.ImageDir))
	s.router.Get("/puter-page/{filename}", s.serveFrom(s.cfg.ImageDir))
	s.router.Get("/audio/{filename}", s.serveAudio)
	s.router.Get("/audio/archives/{filename}", s.serveFrom(filepath.Join(s.cfg.AudioDir, "archives")))
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.database != nil {
		if err := s.database.HealthCheck(); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWhatsApp is the inbound webhook: context lookup, optional
// transcription, reply generation, async audio delivery, context save.
func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	body := strings.TrimSpace(r.FormValue("Body"))
	sender := strings.TrimPrefix(strings.TrimSpace(r.FormValue("From")), "whatsapp:")
	mediaURL := strings.TrimSpace(r.FormValue("MediaUrl0"))

	log.Printf("inbound message from %s: %s", sender, body)
	convContext := s.memory.Context(sender, store.DefaultContextSize)

	var userText string
	switch {
	case mediaURL != "":
		transcribed, ok := s.transcriber.Transcribe(r.Context(), mediaURL, sender)
		if !ok {
			s.writeTwiML(w, "Je n'ai pas pu transcrire votre audio. Pouvez-vous envoyer un message texte ?")
			return
		}
		log.Printf("transcribed audio from %s: %s", sender, transcribed)
		userText = transcribed
	case body != "":
		userText = body
	default:
		s.writeTwiML(w, "Bonjour ! Envoyez-moi un message texte ou audio.")
		return
	}

	enhanced := userText
	if convContext != "" {
		enhanced = fmt.Sprintf("[Contexte: %s] %s", convContext, userText)
	}
	rep := s.replies.Generate(r.Context(), enhanced, sender)

	s.queueVoiceReply(r.Context(), sender, rep.Text)

	if err := s.memory.SaveMessage(sender, userText, rep.Text); err != nil {
		log.Printf("saving conversation for %s: %v", sender, err)
	}
	s.writeTwiML(w, rep.Text)
}

// queueVoiceReply synthesizes the reply as speech and queues its delivery.
// Failure degrades to the text-only reply.
func (s *Server) queueVoiceReply(ctx context.Context, sender, text string) {
	if err := os.MkdirAll(s.cfg.AudioDir, 0o755); err != nil {
		log.Printf("creating audio dir: %v", err)
		return
	}
	filename := fmt.Sprintf("audio_%s_%s.mp3",
		strings.TrimPrefix(sender, "+"), time.Now().Format("20060102_150405"))
	path := filepath.Join(s.cfg.AudioDir, filename)

	if err := s.synth.Synthesize(ctx, text, path); err != nil {
		if errors.Is(err, speech.ErrTextTooShort) {
			log.Printf("skipping voice reply for %s: text too short", sender)
		} else {
			log.Printf("voice synthesis for %s failed: %v", sender, err)
		}
		return
	}
	id, err := s.media.Add(sender, store.MediaKindAudio, filename)
	if err != nil {
		log.Printf("registering audio %s: %v", filename, err)
	}
	s.worker.Enqueue(whatsapp.Job{
		To:       sender,
		MediaURL: strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/audio/" + filename,
		MediaID:  id,
	})
}

// handleProcessPuterImage ingests the browser-generated image: decode,
// persist, upload to a public host and queue WhatsApp delivery.
func (s *Server) handleProcessPuterImage(w http.ResponseWriter, r *http.Request) {
	var req types.ProcessImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		s.writeJSON(w, types.ProcessImageResponse{Success: false, Error: "aucune image reçue"})
		return
	}
	data := req.Image
	if i := strings.Index(data, ","); i >= 0 {
		// data URL prefix
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		s.writeJSON(w, types.ProcessImageResponse{Success: false, Error: "image invalide"})
		return
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	filename := fmt.Sprintf("puter_%s_%d.png", safePrompt(req.Prompt), ts)
	if err := os.MkdirAll(s.cfg.ImageDir, 0o755); err != nil {
		s.writeJSON(w, types.ProcessImageResponse{Success: false, Error: err.Error()})
		return
	}
	path := filepath.Join(s.cfg.ImageDir, filename)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.writeJSON(w, types.ProcessImageResponse{Success: false, Error: err.Error()})
		return
	}
	log.Printf("image stored: %s", filename)

	publicURL := s.uploader.Upload(r.Context(), path)
	if publicURL == "" {
		// Degraded path: the messaging backend cannot fetch this URL.
		publicURL = fmt.Sprintf("http://localhost:%s/image/%s", s.cfg.Port, filename)
		log.Printf("warning: upload failed, falling back to local URL %s", publicURL)
		log.Println("warning: WhatsApp requires a public URL; configure IMGBB_API_KEY")
	}

	id, err := s.media.Add(req.SenderNumber, store.MediaKindImage, filename)
	if err != nil {
		log.Printf("registering image %s: %v", filename, err)
	}
	if req.SenderNumber != "" && whatsapp.IsPublicURL(publicURL) {
		s.worker.Enqueue(whatsapp.Job{
			To:       req.SenderNumber,
			MediaURL: publicURL,
			Caption:  "🎨 " + truncate(req.Prompt, 100),
			MediaID:  id,
		})
	}

	s.writeJSON(w, types.ProcessImageResponse{
		Success:      true,
		Filename:     filename,
		LocalURL:     "/image/" + filename,
		PublicURL:    publicURL,
		Prompt:       req.Prompt,
		SenderNumber: req.SenderNumber,
	})
}

// handleSendDirect pushes an already-hosted image immediately. Fails closed
// unless the image URL is publicly reachable.
func (s *Server) handleSendDirect(w http.ResponseWriter, r *http.Request) {
	var req types.SendDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, types.SendDirectResponse{Success: false, Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.ToNumber) == "" {
		s.writeJSON(w, types.SendDirectResponse{Success: false, Error: "numéro manquant"})
		return
	}
	if !whatsapp.IsPublicURL(req.ImageURL) {
		s.writeJSON(w, types.SendDirectResponse{Success: false, Error: "URL publique requise pour WhatsApp"})
		return
	}
	if !s.sender.Enabled() {
		s.writeJSON(w, types.SendDirectResponse{Success: false, Error: "Twilio non configuré"})
		return
	}
	sid, err := s.sender.SendMedia(r.Context(), req.ToNumber, req.ImageURL, "🎨 "+truncate(req.Prompt, 100))
	if err != nil {
		log.Printf("direct send to %s failed: %v", req.ToNumber, err)
		s.writeJSON(w, types.SendDirectResponse{Success: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, types.SendDirectResponse{
		Success:    true,
		MessageSID: sid,
		ToNumber:   req.ToNumber,
		ImageURL:   req.ImageURL,
	})
}

// handleTestPuter opens the generation workflow from the browser for quick
// manual testing.
func (s *Server) handleTestPuter(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		prompt = "a cat"
	}
	number := r.URL.Query().Get("number")
	page, err := s.pages.WritePage(prompt, number)
	if err != nil {
		s.writeJSON(w, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, map[string]any{"success": true, "url": page.FullURL, "prompt": prompt})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>WhatsApp Voice Bot</title></head>
<body>
  <h1>WhatsApp Voice Bot</h1>
  <p>Envoyez <code>/image [description]</code> sur WhatsApp pour générer une image.</p>
  <p>Envoyez un message vocal pour une réponse transcrite et parlée.</p>
</body>
</html>`)
}

// serveAudio serves generated audio, falling back to the archive directory
// once the sweep has claimed the file.
func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !safeFilename(name) {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.cfg.AudioDir, name)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(s.cfg.AudioDir, "archives", name)
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
	}
	http.ServeFile(w, r, path)
}

func (s *Server) serveFrom(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if !safeFilename(name) {
			http.NotFound(w, r)
			return
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func (s *Server) writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, xml.Header)
	if err := xml.NewEncoder(w).Encode(types.NewMessagingResponse(body)); err != nil {
		log.Printf("encoding TwiML response: %v", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

// safeFilename rejects anything that could escape the serving directory.
func safeFilename(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\") && name != "." && name != ".." &&
		!strings.Contains(name, "..")
}

// safePrompt keeps the leading alphanumeric part of a prompt for use in a
// filename.
func safePrompt(prompt string) string {
	if len(prompt) > 30 {
		prompt = prompt[:30]
	}
	var b strings.Builder
	for _, r := range prompt {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.ReplaceAll(out, " ", "_")
	if out == "" {
		out = "image"
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
