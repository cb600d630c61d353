// Package moderation classifies user input before it reaches the main
// conversation. The gate fails open: when the classifier cannot produce a
// verdict the input is allowed.
package moderation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/prompts"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
)

// Category 是审核结果的分类。
type Category string

const (
	CategoryOK               Category = "ok"
	CategoryRoleManipulation Category = "role_manipulation"
	CategoryHarmfulContent   Category = "harmful_content"
	CategoryOffTopic         Category = "off_topic"
	CategoryHarassment       Category = "harassment"
)

// Verdict is the outcome of Check.
type Verdict struct {
	Passed   bool     `json:"passed"`
	Category Category `json:"category"`
}

// Allowed is the fail-open verdict.
var Allowed = Verdict{Passed: true, Category: CategoryOK}

// Classifier is the model capability the gate needs.
type Classifier interface {
	StructuredChat(ctx context.Context, messages []*schema.Message, tier ai.Tier, out any) error
}

// Config 控制审核服务。
type Config struct {
	Enabled bool
}

// Service 调用轻量模型对用户输入做分类。
type Service struct {
	enabled    bool
	classifier Classifier
}

// NewService creates the gate. A nil classifier disables it.
func NewService(classifier Classifier, cfg Config) *Service {
	return &Service{
		enabled:    cfg.Enabled && classifier != nil,
		classifier: classifier,
	}
}

// Enabled 返回审核是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Check classifies text. It never returns an error; any failure yields
// Allowed.
func (s *Service) Check(ctx context.Context, text string) Verdict {
	if !s.Enabled() {
		return Allowed
	}

	messages := []*schema.Message{
		schema.SystemMessage(prompts.Moderation),
		schema.UserMessage(text),
	}

	var payload classifierPayload
	if err := s.classifier.StructuredChat(ctx, messages, ai.TierLight, &payload); err != nil {
		log.Printf("[moderation] classifier failed, defaulting to pass: %v", err)
		return Allowed
	}

	verdict, err := payload.verdict()
	if err != nil {
		log.Printf("[moderation] classifier output rejected, defaulting to pass: %v", err)
		return Allowed
	}

	log.Printf("[moderation] verdict passed=%t category=%s", verdict.Passed, verdict.Category)
	return verdict
}

type classifierPayload struct {
	Passed   *bool  `json:"passed"`
	Category string `json:"category"`
}

func (p classifierPayload) verdict() (Verdict, error) {
	if p.Passed == nil {
		return Verdict{}, fmt.Errorf("missing passed field")
	}
	if *p.Passed {
		return Allowed, nil
	}

	category, ok := parseCategory(p.Category)
	if !ok {
		return Verdict{}, fmt.Errorf("unknown category %q", p.Category)
	}
	return Verdict{Passed: false, Category: category}, nil
}

func parseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryRoleManipulation:
		return CategoryRoleManipulation, true
	case CategoryHarmfulContent:
		return CategoryHarmfulContent, true
	case CategoryOffTopic:
		return CategoryOffTopic, true
	case CategoryHarassment:
		return CategoryHarassment, true
	default:
		return "", false
	}
}
