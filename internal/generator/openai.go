// Package generator produces the assistant's reply text for each caller utterance.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/pipeline"
)

// NewOpenAIClient builds an API client whose requests are traced.
func NewOpenAIClient(cfg *config.Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	clientCfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return openai.NewClientWithConfig(clientCfg)
}

// OpenAIGenerator streams chat completions for one call. It keeps the
// conversation so every reply sees the turns before it.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger zerolog.Logger

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
}

// NewOpenAIGenerator starts a conversation with the system prompt and, when
// set, the greeting already spoken to the caller.
func NewOpenAIGenerator(client *openai.Client, model string, prompts Prompts, logger zerolog.Logger) *OpenAIGenerator {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompts.System},
	}
	if prompts.Greeting != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: prompts.Greeting,
		})
	}
	return &OpenAIGenerator{
		client:   client,
		model:    model,
		logger:   observability.ForComponent(logger, "generator"),
		messages: messages,
	}
}

// Generate sends the utterance and streams the reply. The channel is closed
// after a Done or Err fragment, or early when ctx is cancelled.
func (g *OpenAIGenerator) Generate(ctx context.Context, utterance string, interactionIndex int) (<-chan pipeline.Fragment, error) {
	g.mu.Lock()
	g.messages = append(g.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: utterance,
	})
	messages := append([]openai.ChatCompletionMessage(nil), g.messages...)
	g.mu.Unlock()

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start completion: %w", err)
	}

	out := make(chan pipeline.Fragment, 16)
	go g.relay(ctx, stream, out, interactionIndex)
	return out, nil
}

func (g *OpenAIGenerator) relay(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- pipeline.Fragment, interactionIndex int) {
	defer close(out)
	defer stream.Close()

	send := func(f pipeline.Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	start := time.Now()
	var reply strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			g.remember(reply.String())
			g.logger.Info().
				Int("interaction", interactionIndex).
				Dur("elapsed", time.Since(start)).
				Str("reply", reply.String()).
				Msg("Reply generated")
			send(pipeline.Fragment{Done: true})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error().Err(err).Int("interaction", interactionIndex).Msg("Completion stream failed")
			send(pipeline.Fragment{Err: fmt.Errorf("completion stream: %w", err)})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		text := resp.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		reply.WriteString(text)
		if !send(pipeline.Fragment{Text: text}) {
			return
		}
	}
}

func (g *OpenAIGenerator) remember(reply string) {
	if reply == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
}

// History returns a copy of the conversation so far.
func (g *OpenAIGenerator) History() []openai.ChatCompletionMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), g.messages...)
}
