package chat

import "time"

// Stage 表示练习流程所处的阶段。
type Stage string

const (
	StageInput        Stage = "input"
	StageConversation Stage = "conversation"
	StageRoleSwap     Stage = "roleSwap"
	StageReview       Stage = "review"
	StageTerminated   Stage = "terminated"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageInput, StageConversation, StageRoleSwap, StageReview, StageTerminated:
		return true
	default:
		return false
	}
}

// MoodRating 记录用户在倾诉阶段某条消息之后的情绪自评。
type MoodRating struct {
	Value             int `json:"value"`
	AfterMessageIndex int `json:"after_message_index"`
}

// Annotation 是针对练习阶段某条消息的点评。
type Annotation struct {
	MessageIndex int    `json:"message_index"`
	Content      string `json:"content"`
}

// Session is the persisted aggregate of one practice run. It is always
// read, mutated and saved as a whole.
type Session struct {
	ID                   string       `json:"id"`
	Stage                Stage        `json:"stage"`
	UserIssue            *string      `json:"user_issue"`
	ConversationMessages []Message    `json:"stage2_messages"`
	PracticeMessages     []Message    `json:"stage3_messages"`
	MoodRatings          []MoodRating `json:"mood_ratings"`
	Annotations          []Annotation `json:"annotations"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`

	// Version is bumped by the store on every successful save.
	Version int64 `json:"-"`
}

// NewSession returns an empty session in the input stage.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:                   id,
		Stage:                StageInput,
		ConversationMessages: []Message{},
		PracticeMessages:     []Message{},
		MoodRatings:          []MoodRating{},
		Annotations:          []Annotation{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Touch refreshes UpdatedAt.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
}

// Clone returns a deep copy so callers never share slices with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.UserIssue != nil {
		issue := *s.UserIssue
		out.UserIssue = &issue
	}
	out.ConversationMessages = append(make([]Message, 0, len(s.ConversationMessages)), s.ConversationMessages...)
	out.PracticeMessages = append(make([]Message, 0, len(s.PracticeMessages)), s.PracticeMessages...)
	out.MoodRatings = append(make([]MoodRating, 0, len(s.MoodRatings)), s.MoodRatings...)
	out.Annotations = append(make([]Annotation, 0, len(s.Annotations)), s.Annotations...)
	return &out
}

// Summary is returned when a session is created.
type Summary struct {
	ID    string `json:"id"`
	Stage Stage  `json:"stage"`
}
