package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/config"
)

// Tier selects a model grade. The tier is chosen by the operation, never by
// the request.
type Tier string

const (
	TierLight  Tier = "light"
	TierMain   Tier = "main"
	TierStrong Tier = "strong"
)

// Service runs role-tagged message lists through the configured chat model.
// It is safe for concurrent use.
type Service struct {
	chain compose.Runnable[[]*schema.Message, *schema.Message]
	cfg   config.AIConfig
}

// NewService compiles a single-node chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chain: runnable, cfg: cfg}, nil
}

// Timeout is the budget for one model call, streaming or not.
func (s *Service) Timeout() time.Duration {
	return s.cfg.Timeout
}

// StreamChat starts a streaming call. The caller owns the reader and must
// close it; cancel ctx to abandon the call.
func (s *Service) StreamChat(ctx context.Context, messages []*schema.Message, tier Tier) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, messages, s.optionsFor(tier))
	if err != nil {
		return nil, NewLLMError(err)
	}
	return stream, nil
}

// Generate waits for the whole reply.
func (s *Service) Generate(ctx context.Context, messages []*schema.Message, tier Tier) (*schema.Message, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	response, err := s.chain.Invoke(ctx, messages, s.optionsFor(tier))
	if err != nil {
		return nil, NewLLMError(err)
	}
	if response == nil {
		return nil, &LLMError{Detail: "empty model response"}
	}

	log.Printf("[ai] generated response tier=%s length=%d", tier, len(response.Content))
	return response, nil
}

// StructuredChat waits for the whole reply and decodes the JSON object it
// contains into out.
func (s *Service) StructuredChat(ctx context.Context, messages []*schema.Message, tier Tier, out any) error {
	response, err := s.Generate(ctx, messages, tier)
	if err != nil {
		return err
	}
	return DecodeStructured(response.Content, out)
}

func (s *Service) optionsFor(tier Tier) compose.Option {
	opts := make([]model.Option, 0, 3)
	if name := s.cfg.Models.For(string(tier)); name != "" {
		opts = append(opts, model.WithModel(name))
	}

	temperature, maxTokens := s.cfg.TemperatureChat, s.cfg.MaxTokensChat
	if tier == TierStrong {
		temperature, maxTokens = s.cfg.TemperatureAnnotation, s.cfg.MaxTokensAnnotation
	}
	if temperature != nil {
		opts = append(opts, model.WithTemperature(*temperature))
	}
	if maxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*maxTokens))
	}
	return compose.WithChatModelOption(opts...)
}

// DecodeStructured extracts the outermost JSON object from content and
// unmarshals it into out.
func DecodeStructured(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return InvalidOutput(fmt.Errorf("missing json object"))
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), out); err != nil {
		return InvalidOutput(err)
	}
	return nil
}
