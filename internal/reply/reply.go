package reply

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"whatsapp-voice-backend/internal/imagegen"
)

const (
	imageCommand    = "/image "
	minPromptLen    = 3
	delegateTimeout = 20 * time.Second
)

const (
	helpPromptText   = "Tapez 'help' pour la liste des commandes."
	commandListText  = "Commandes disponibles:\n• /image [texte] - Génère une image\n• help - Aide"
	shortPromptText  = "Description trop courte (min 3 caractères)."
	backendDownText  = "Je suis votre assistant. Réessayez dans un instant."
	generationFormat = "Génération lancée!\n\nPrompt: %q\n\nL'image sera générée automatiquement puis envoyée sur WhatsApp.\nTemps estimé: 20-40 secondes."
)

// PageWriter triggers the browser-side image generation workflow.
type PageWriter interface {
	WritePage(prompt, sender string) (imagegen.Page, error)
}

// Reply is the generated response for one inbound message.
type Reply struct {
	Text string
}

// Generator turns inbound text into a reply: command handling first, chat
// backend delegation otherwise.
type Generator struct {
	client  *openai.Client
	model   string
	persona PersonaSpec
	pages   PageWriter
}

func NewGenerator(client *openai.Client, model string, persona PersonaSpec, pages PageWriter) *Generator {
	return &Generator{client: client, model: model, persona: persona, pages: pages}
}

// Generate evaluates the trimmed inbound text in order: empty input, the
// /image command, the help tokens, then backend delegation. Backend errors
// degrade to a generic reply; they never propagate.
func (g *Generator) Generate(ctx context.Context, message, sender string) Reply {
	msg := strings.TrimSpace(message)

	if msg == "" {
		return Reply{Text: helpPromptText}
	}

	if len(msg) >= len(imageCommand) && strings.EqualFold(msg[:len(imageCommand)], imageCommand) {
		prompt := strings.TrimSpace(msg[len(imageCommand):])
		if len([]rune(prompt)) < minPromptLen {
			return Reply{Text: shortPromptText}
		}
		page, err := g.pages.WritePage(prompt, sender)
		if err != nil {
			log.Printf("image page generation failed: %v", err)
			return Reply{Text: "Erreur: " + truncate(err.Error(), 80)}
		}
		log.Printf("generation page %s created for %s", page.Filename, sender)
		return Reply{Text: fmt.Sprintf(generationFormat, prompt)}
	}

	switch strings.ToLower(msg) {
	case "help", "aide", "/help":
		return Reply{Text: commandListText}
	}

	return g.delegate(ctx, msg)
}

// delegate asks the chat backend, with a bounded timeout so backend latency
// cannot stall the webhook.
func (g *Generator) delegate(ctx context.Context, message string) Reply {
	ctx, cancel := context.WithTimeout(ctx, delegateTimeout)
	defer cancel()

	temperature := g.persona.Style.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	maxTokens := g.persona.Style.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 400
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.persona.System},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		log.Printf("chat backend error: %v", err)
		return Reply{Text: backendDownText}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		log.Println("chat backend returned no content")
		return Reply{Text: backendDownText}
	}
	return Reply{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
