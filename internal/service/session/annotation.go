package session

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	"github.com/zhouzirui/talk-practice/backend/internal/prompts"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
)

// StructuredChatter issues single-shot calls whose reply is a JSON object.
type StructuredChatter interface {
	StructuredChat(ctx context.Context, messages []*schema.Message, tier ai.Tier, out any) error
}

// AnnotationExtractor asks the strong model to critique a practice
// transcript.
type AnnotationExtractor struct {
	llm StructuredChatter
}

// NewAnnotationExtractor creates an extractor.
func NewAnnotationExtractor(llm StructuredChatter) *AnnotationExtractor {
	return &AnnotationExtractor{llm: llm}
}

type annotationPayload struct {
	Annotations *[]struct {
		MessageIndex *int    `json:"message_index"`
		Content      *string `json:"content"`
	} `json:"annotations"`
}

// Extract returns one Annotation per record in the reply, in reply order.
// Index bounds are not checked here.
func (e *AnnotationExtractor) Extract(ctx context.Context, practice []chat.Message) ([]chat.Annotation, error) {
	messages := ai.BuildMessages(prompts.Reviewer.Build(""), nil, prompts.Transcript(practice))

	var payload annotationPayload
	if err := e.llm.StructuredChat(ctx, messages, ai.TierStrong, &payload); err != nil {
		return nil, ai.NewLLMError(err)
	}
	if payload.Annotations == nil {
		return nil, ai.InvalidOutput(fmt.Errorf("missing annotations field"))
	}

	annotations := make([]chat.Annotation, 0, len(*payload.Annotations))
	for i, raw := range *payload.Annotations {
		if raw.MessageIndex == nil || raw.Content == nil {
			return nil, ai.InvalidOutput(fmt.Errorf("annotation %d: message_index and content are required", i))
		}
		annotations = append(annotations, chat.Annotation{
			MessageIndex: *raw.MessageIndex,
			Content:      *raw.Content,
		})
	}
	return annotations, nil
}
