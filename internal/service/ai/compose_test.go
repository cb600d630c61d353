package ai

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
)

func TestBuildMessagesMapsRolesAndAppendsExtra(t *testing.T) {
	history := []chat.Message{chat.NewMessage(chat.RoleAI, "hi", time.Now())}

	got := BuildMessages("S", history, "ask X")

	want := []struct {
		role    schema.RoleType
		content string
	}{
		{schema.System, "S"},
		{schema.Assistant, "hi"},
		{schema.User, "ask X"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Role != w.role || got[i].Content != w.content {
			t.Fatalf("message %d: got {%s %q}, want {%s %q}", i, got[i].Role, got[i].Content, w.role, w.content)
		}
	}
}

func TestBuildMessagesWithoutExtra(t *testing.T) {
	history := []chat.Message{
		chat.NewMessage(chat.RoleUser, "a", time.Now()),
		chat.NewMessage(chat.RoleAI, "b", time.Now()),
	}

	got := BuildMessages("S", history, "")

	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[1].Role != schema.User || got[2].Role != schema.Assistant {
		t.Fatalf("unexpected roles %s %s", got[1].Role, got[2].Role)
	}
}
