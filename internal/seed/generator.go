// ABOUTME: AI-powered name generator for the persisted customer prefix.
// ABOUTME: Uses OpenAI when a key is configured and falls back to deterministic names otherwise.

package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sashabaranov/go-openai"
)

// maxNamesPerCall bounds one completion request; larger counts are batched.
const maxNamesPerCall = 200

// ChatClient is the subset of the OpenAI client the generator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces realistic customer names.
type Generator struct {
	client ChatClient
	model  string
}

// NewGenerator creates a generator, loading the API key from .env if available.
func NewGenerator() *Generator {
	// Try .env from current dir or parent dirs, then the home directory
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		godotenv.Load(filepath.Join(home, ".env"))
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-5-mini"
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Info("no OPENAI_API_KEY found, using deterministic names")
		return &Generator{model: model}
	}
	slog.Info("OpenAI API key found, using AI-generated names", "model", model)
	return NewGeneratorWithClient(openai.NewClient(apiKey), model)
}

// NewGeneratorWithClient wires an explicit client, mainly for tests.
func NewGeneratorWithClient(client ChatClient, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Enabled reports whether AI generation is available.
func (g *Generator) Enabled() bool {
	return g.client != nil
}

// Names returns up to n full names. Without a client, or when the model
// fails, it returns nil and the caller keeps the deterministic names.
func (g *Generator) Names(ctx context.Context, n int) []string {
	if !g.Enabled() || n <= 0 {
		return nil
	}

	names := make([]string, 0, n)
	for len(names) < n {
		batch := min(maxNamesPerCall, n-len(names))
		got, err := g.generateNames(ctx, batch)
		if err != nil {
			slog.Warn("AI name generation failed, falling back to deterministic names", "err", err, "generated", len(names))
			break
		}
		if len(got) == 0 {
			break
		}
		names = append(names, got...)
	}
	if len(names) > n {
		names = names[:n]
	}
	slog.Info("generated names", "count", len(names))
	return names
}

func (g *Generator) generateNames(ctx context.Context, count int) ([]string, error) {
	prompt := fmt.Sprintf(`Generate %d realistic, diverse full names for customers in a CRM.
Return as a JSON array of strings, each "First Last". No duplicates, no titles.`, count)

	raw, err := callOpenAI[[]string](ctx, g.client, g.model, prompt)
	if err != nil {
		return nil, err
	}
	out := raw[:0]
	for _, name := range raw {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

func callOpenAI[T any](ctx context.Context, client ChatClient, model, prompt string) (T, error) {
	var result T

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a data generator. Always respond with valid JSON only, no markdown or explanation.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return result, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return result, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return result, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return result, nil
}
