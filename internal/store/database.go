package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"whatsapp-voice-backend/internal/db"
)

// DatabaseStore keeps conversations in PostgreSQL. One row per sender; the
// exchange log travels as a JSONB column so it shares the Exchange shape with
// the file store.
type DatabaseStore struct {
	db *db.DB
}

func NewDatabaseStore(database *db.DB) (*DatabaseStore, error) {
	ds := &DatabaseStore{db: database}
	if err := ds.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure conversations schema: %w", err)
	}
	return ds, nil
}

func (ds *DatabaseStore) ensureSchema() error {
	_, err := ds.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			sender TEXT PRIMARY KEY,
			messages JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (ds *DatabaseStore) Context(sender string, max int) string {
	if max <= 0 {
		max = DefaultContextSize
	}
	var raw []byte
	err := ds.db.QueryRow(
		"SELECT messages FROM conversations WHERE sender = $1", sender,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return ""
	}
	if err != nil {
		log.Printf("conversation lookup failed for %s: %v", sender, err)
		return ""
	}
	var msgs []Exchange
	if err := json.Unmarshal(raw, &msgs); err != nil {
		log.Printf("corrupt conversation row for %s: %v", sender, err)
		return ""
	}
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

func (ds *DatabaseStore) SaveMessage(sender, userText, botText string) error {
	if sender == "" {
		return fmt.Errorf("sender is required")
	}
	tx, err := ds.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRow(
		"SELECT messages FROM conversations WHERE sender = $1 FOR UPDATE", sender,
	).Scan(&raw)
	var msgs []Exchange
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return fmt.Errorf("corrupt conversation row for %s: %w", sender, err)
		}
	}

	msgs = append(msgs, Exchange{User: userText, Bot: botText, Time: time.Now()})
	if len(msgs) > maxExchanges {
		msgs = msgs[len(msgs)-maxExchanges:]
	}
	out, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (sender, messages, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (sender)
		DO UPDATE SET messages = EXCLUDED.messages, updated_at = NOW()
	`, sender, out); err != nil {
		return err
	}
	return tx.Commit()
}
