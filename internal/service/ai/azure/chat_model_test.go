package azure

import (
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

func TestToRequestMessagesMapsRoles(t *testing.T) {
	got := toRequestMessages([]*schema.Message{
		schema.SystemMessage("S"),
		schema.AssistantMessage("hi", nil),
		schema.UserMessage("ask X"),
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if _, ok := got[0].(*azopenai.ChatRequestSystemMessage); !ok {
		t.Fatalf("expected system message, got %T", got[0])
	}
	if _, ok := got[1].(*azopenai.ChatRequestAssistantMessage); !ok {
		t.Fatalf("expected assistant message, got %T", got[1])
	}
	if _, ok := got[2].(*azopenai.ChatRequestUserMessage); !ok {
		t.Fatalf("expected user message, got %T", got[2])
	}
}

func TestOptionsPreferPerCallModel(t *testing.T) {
	m := NewChatModel(nil, Config{Deployment: "gpt-main"})

	if got := *m.options().Model; got != "gpt-main" {
		t.Fatalf("expected default deployment, got %q", got)
	}
	if got := *m.options(model.WithModel("gpt-strong")).Model; got != "gpt-strong" {
		t.Fatalf("expected per-call deployment, got %q", got)
	}
}

func TestToInt32(t *testing.T) {
	if toInt32(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
	v := 4096
	if got := toInt32(&v); got == nil || *got != 4096 {
		t.Fatalf("unexpected conversion %v", got)
	}
}
