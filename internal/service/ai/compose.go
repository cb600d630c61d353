package ai

import (
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
)

// BuildMessages assembles [system, history..., extra?]. AI turns become
// assistant messages; an empty extra adds nothing.
func BuildMessages(system string, history []chat.Message, extra string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(system))

	for _, msg := range history {
		if msg.Role == chat.RoleAI {
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
			continue
		}
		messages = append(messages, schema.UserMessage(msg.Content))
	}

	if extra != "" {
		messages = append(messages, schema.UserMessage(extra))
	}
	return messages
}
