package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"whatsapp-voice-backend/internal/config"
	"whatsapp-voice-backend/internal/server"
)

func main() {
	cfg := config.Load()

	for _, dir := range []string{cfg.ImageDir, filepath.Join(cfg.AudioDir, "archives"), filepath.Dir(cfg.MemoryFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		log.Fatalf("failed to start background workers: %v", err)
	}

	addr := ":" + cfg.Port
	fmt.Printf("WhatsApp voice bot listening on %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, s.Router()))
}
