package reply

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"whatsapp-voice-backend/internal/imagegen"
)

type fakePages struct {
	calls  int
	prompt string
	sender string
	err    error
}

func (f *fakePages) WritePage(prompt, sender string) (imagegen.Page, error) {
	f.calls++
	f.prompt = prompt
	f.sender = sender
	if f.err != nil {
		return imagegen.Page{}, f.err
	}
	return imagegen.Page{Filename: "puter_1.html", LocalURL: "/puter-page/puter_1.html"}, nil
}

// chatBackend fakes the completion endpoint: a fixed reply, or a 500.
func chatBackend(t *testing.T, reply string, fail bool) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func newTestGenerator(t *testing.T, client *openai.Client, pages PageWriter) *Generator {
	t.Helper()
	var persona PersonaSpec
	persona.System = "Tu es un assistant."
	return NewGenerator(client, "gpt-4o-mini", persona, pages)
}

func TestGenerateEmptyMessage(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, chatBackend(t, "ignored", false), &fakePages{})
	rep := g.Generate(context.Background(), "   ", "+336")
	if rep.Text != helpPromptText {
		t.Fatalf("reply = %q, want help prompt", rep.Text)
	}
}

func TestGenerateHelpTokens(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, chatBackend(t, "ignored", false), &fakePages{})
	for _, msg := range []string{"help", "HELP", "aide", "Aide", "/help"} {
		rep := g.Generate(context.Background(), msg, "+336")
		if rep.Text != commandListText {
			t.Fatalf("Generate(%q) = %q, want command list", msg, rep.Text)
		}
	}
}

func TestGenerateImageCommand(t *testing.T) {
	t.Parallel()
	pages := &fakePages{}
	g := newTestGenerator(t, chatBackend(t, "ignored", false), pages)

	rep := g.Generate(context.Background(), "/image a red bicycle", "+33612345678")
	if pages.calls != 1 {
		t.Fatalf("expected one page write, got %d", pages.calls)
	}
	if pages.prompt != "a red bicycle" || pages.sender != "+33612345678" {
		t.Fatalf("page written with %q / %q", pages.prompt, pages.sender)
	}
	if !strings.Contains(rep.Text, "Génération lancée") {
		t.Fatalf("reply = %q", rep.Text)
	}
	if !strings.Contains(rep.Text, `"a red bicycle"`) {
		t.Fatalf("reply missing prompt echo: %q", rep.Text)
	}
}

func TestGenerateImageCommandCaseInsensitive(t *testing.T) {
	t.Parallel()
	pages := &fakePages{}
	g := newTestGenerator(t, chatBackend(t, "ignored", false), pages)
	g.Generate(context.Background(), "/IMAGE un chat", "+336")
	if pages.calls != 1 {
		t.Fatalf("expected one page write, got %d", pages.calls)
	}
}

func TestGenerateImageCommandShortPrompt(t *testing.T) {
	t.Parallel()
	pages := &fakePages{}
	g := newTestGenerator(t, chatBackend(t, "ignored", false), pages)
	rep := g.Generate(context.Background(), "/image ab", "+336")
	if rep.Text != shortPromptText {
		t.Fatalf("reply = %q, want short prompt message", rep.Text)
	}
	if pages.calls != 0 {
		t.Fatal("no page should be written for a rejected prompt")
	}
}

func TestGenerateImageCommandPageFailure(t *testing.T) {
	t.Parallel()
	pages := &fakePages{err: errors.New("disk full")}
	g := newTestGenerator(t, chatBackend(t, "ignored", false), pages)
	rep := g.Generate(context.Background(), "/image un chat", "+336")
	if !strings.HasPrefix(rep.Text, "Erreur:") {
		t.Fatalf("reply = %q, want error message", rep.Text)
	}
}

func TestGenerateDelegatesToBackend(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, chatBackend(t, "Bonjour ! Comment puis-je aider ?", false), &fakePages{})
	rep := g.Generate(context.Background(), "bonjour", "+336")
	if rep.Text != "Bonjour ! Comment puis-je aider ?" {
		t.Fatalf("reply = %q", rep.Text)
	}
}

func TestGenerateBackendFailure(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, chatBackend(t, "", true), &fakePages{})
	rep := g.Generate(context.Background(), "bonjour", "+336")
	if rep.Text != backendDownText {
		t.Fatalf("reply = %q, want fallback", rep.Text)
	}
}

func TestGenerateBackendEmptyContent(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, chatBackend(t, "   ", false), &fakePages{})
	rep := g.Generate(context.Background(), "bonjour", "+336")
	if rep.Text != backendDownText {
		t.Fatalf("reply = %q, want fallback", rep.Text)
	}
}
