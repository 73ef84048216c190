package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"mindnexus/internal/models"
)

// UpstreamError marks a failed language-model call (timeout, auth, rate
// limit). Callers surface a generic answer-failed message and keep the
// user's question in history.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("language model request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
}

// ChatEngine synthesizes answers grounded in retrieved chunks. The response
// is returned verbatim; nothing checks that the model actually stuck to the
// supplied context.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

func NewChatEngine(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant. Answer the question using only the provided document excerpts. If the excerpts do not contain the answer, say that you don't have the information."
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{config: config, llm: model}, nil
}

// Answer generates a response to the question grounded in the given chunks.
func (ce *ChatEngine) Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman, buildPrompt(question, chunks)),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	if response == nil || len(response.Choices) == 0 {
		return "", &UpstreamError{Err: fmt.Errorf("empty response")}
	}

	return response.Choices[0].Content, nil
}

func buildPrompt(question string, chunks []models.ScoredChunk) string {
	var b strings.Builder
	if len(chunks) > 0 {
		b.WriteString("Document excerpts:\n\n")
		for _, chunk := range chunks {
			fmt.Fprintf(&b, "[%s #%d]\n%s\n\n", chunk.Source, chunk.Ordinal, chunk.Text)
		}
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}
