package chat

import "time"

// Role 标识消息的发送方。
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message is one utterance inside a stage transcript. Its position in the
// transcript is its index and never changes.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage stamps a message with the given time in UTC.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{Role: role, Content: content, CreatedAt: now.UTC()}
}
