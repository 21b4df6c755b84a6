// Package completion wraps the external large-language-model collaborator
// that produces conversational replies. The session engine depends only on
// the Completer interface; the concrete implementation here drives an eino
// prompt chain over an Ark chat model.
//
// Failure policy: one attempt per call under a mandatory timeout, no retry.
// The caller (services.SessionService) substitutes a static fallback reply
// on any error, so a failure here must never surface as a request failure.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Turn is one prior utterance handed to the model as history.
type Turn struct {
	// Role is "user" or "assistant".
	Role string
	// Content is the utterance text.
	Content string
}

// Completer generates an assistant reply from a system preamble, a bounded
// chronological history window, and the new user message.
//
// Implementations must honor ctx cancellation and return a generic error on
// timeout or transport failure; they must not retry.
type Completer interface {
	Complete(ctx context.Context, systemPreamble string, history []Turn, userMessage string) (string, error)
}

// Config carries the Ark model credentials and the per-call timeout.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float32
	MaxTokens   *int
	// Timeout bounds each Complete call. Values <= 0 default to 5s.
	Timeout time.Duration
}

// Enabled reports whether the configuration is sufficient to build a model.
func (c Config) Enabled() bool {
	return c.Model != "" && c.APIKey != ""
}

// Service is the eino-backed Completer.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	timeout time.Duration
}

// New builds the prompt chain and compiles it against the configured Ark
// chat model.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("completion: ARK_API_KEY and COMPLETION_MODEL are required")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("completion: create chat model: %w", err)
	}
	return newWithModel(ctx, chatModel, cfg.Timeout)
}

// newWithModel wires the chain around any eino ChatModel (tests use a stub).
func newWithModel(ctx context.Context, chatModel model.ChatModel, timeout time.Duration) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("completion: compile chain: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{chain: runnable, timeout: timeout}, nil
}

// Complete runs the chain once under the configured timeout and returns the
// reply text.
func (s *Service) Complete(ctx context.Context, systemPreamble string, history []Turn, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.chain.Invoke(ctx, map[string]any{
		"system":  systemPreamble,
		"history": historyMessages(history),
		"query":   userMessage,
	})
	if err != nil {
		return "", fmt.Errorf("completion: invoke chain: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("completion: empty reply")
	}
	return reply, nil
}

// historyMessages converts turns to eino schema messages. Unknown roles are
// treated as user turns rather than dropped.
func historyMessages(history []Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, t := range history {
		if t.Role == "assistant" {
			out = append(out, schema.AssistantMessage(t.Content, nil))
			continue
		}
		out = append(out, schema.UserMessage(t.Content))
	}
	return out
}
