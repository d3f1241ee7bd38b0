// -----------------------------------------------------------------------
// Claude Service - chat completions via the Anthropic API
// Used for per-document data extraction and retrieval chat answers
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// ClaudeService implements the LLMService interface using the Anthropic API.
type ClaudeService struct {
	logger    arbor.ILogger
	client    anthropic.Client
	breaker   *gobreaker.CircuitBreaker
	model     string
	maxTokens int
	// Temperature below zero means "leave unset".
	temperature float32
	timeout     time.Duration
}

// Compile-time interface assertion
var _ interfaces.LLMService = (*ClaudeService)(nil)

// NewClaudeService creates a Claude client from configuration. The API key
// must already be resolved (ANTHROPIC_API_KEY or claude.api_key in config).
func NewClaudeService(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, common.E(common.KindValidation, "Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key)")
	}

	model := config.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	service := &ClaudeService{
		logger:      logger,
		client:      client,
		breaker:     newBreaker("claude", logger),
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		timeout:     config.RequestTimeout(),
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Dur("timeout", service.timeout).
		Msg("Claude service initialized")

	return service, nil
}

// Complete generates a full response for the conversation.
func (s *ClaudeService) Complete(ctx context.Context, system string, turns []interfaces.ChatTurn) (string, error) {
	params, err := s.buildParams(system, turns)
	if err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.Messages.New(timeoutCtx, params)
		if err != nil {
			return nil, err
		}
		return collectText(resp)
	})
	if err != nil {
		s.logger.Error().Err(err).Int("turns", len(turns)).Msg("Claude completion failed")
		return "", mapProviderErr(err, "claude", "completion")
	}

	text := result.(string)
	s.logger.Debug().
		Int("turns", len(turns)).
		Int("response_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Claude completion finished")

	return text, nil
}

// CompleteStream streams the response through onToken and returns the
// accumulated text. An onToken error aborts generation.
func (s *ClaudeService) CompleteStream(ctx context.Context, system string, turns []interfaces.ChatTurn, onToken interfaces.TokenHandler) (string, error) {
	params, err := s.buildParams(system, turns)
	if err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		stream := s.client.Messages.NewStreaming(timeoutCtx, params)
		defer stream.Close()

		var full strings.Builder
		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text == "" {
						continue
					}
					full.WriteString(deltaVariant.Text)
					if err := onToken(deltaVariant.Text); err != nil {
						return nil, err
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, err
		}
		if full.Len() == 0 {
			return nil, common.E(common.KindUnavailable, "claude returned an empty completion")
		}
		return full.String(), nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int("turns", len(turns)).Msg("Claude stream failed")
		return "", mapProviderErr(err, "claude", "completion")
	}

	text := result.(string)
	s.logger.Debug().
		Int("turns", len(turns)).
		Int("response_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Claude stream finished")

	return text, nil
}

// HealthCheck exercises the API with a minimal probe request.
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.Messages.New(probeCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(s.model),
			MaxTokens: 8,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
			},
		})
		if err != nil {
			return nil, err
		}
		return collectText(resp)
	})
	if err != nil {
		return mapProviderErr(err, "claude", "health check")
	}
	return nil
}

// buildParams converts the system directive and turn list into request
// parameters. Blank turns are dropped; unknown roles default to user.
func (s *ClaudeService) buildParams(system string, turns []interfaces.ChatTurn) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		switch turn.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, common.E(common.KindValidation, "conversation requires at least one non-empty turn")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		Messages:  messages,
	}
	if s.temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

// collectText concatenates the text blocks of a response.
func collectText(resp *anthropic.Message) (string, error) {
	var out strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.WriteString(variant.Text)
		}
	}
	if out.Len() == 0 {
		return "", common.E(common.KindUnavailable, "claude returned an empty completion")
	}
	return out.String(), nil
}
