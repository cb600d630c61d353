// Package session runs the practice flow: input → conversation → roleSwap →
// review, with terminated reachable through moderation. Every operation
// loads the whole aggregate, mutates a private copy and saves it once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	"github.com/zhouzirui/talk-practice/backend/internal/prompts"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
	"github.com/zhouzirui/talk-practice/backend/internal/service/moderation"
)

const minMessagesToComplete = 2

// LLM is the model capability the state machine needs.
type LLM interface {
	StructuredChatter
	StreamChat(ctx context.Context, messages []*schema.Message, tier ai.Tier) (*schema.StreamReader[*schema.Message], error)
}

// Moderator classifies user input. It must not fail.
type Moderator interface {
	Check(ctx context.Context, text string) moderation.Verdict
}

// Config 控制会话服务的行为。
type Config struct {
	// CallTimeout bounds each streaming model call. Zero disables it.
	CallTimeout time.Duration
	// Policy acts on moderation verdicts; nil means observe only.
	Policy moderation.Policy
}

// Service is the stage state machine.
type Service struct {
	store     chat.Store
	llm       LLM
	moderator Moderator
	extractor *AnnotationExtractor
	policy    moderation.Policy
	timeout   time.Duration
	locks     *keyedLocker
	now       func() time.Time
}

// NewService wires the state machine. moderator may be nil.
func NewService(store chat.Store, llm LLM, moderator Moderator, cfg Config) *Service {
	policy := cfg.Policy
	if policy == nil {
		policy = moderation.ObserveOnly
	}
	return &Service{
		store:     store,
		llm:       llm,
		moderator: moderator,
		extractor: NewAnnotationExtractor(llm),
		policy:    policy,
		timeout:   cfg.CallTimeout,
		locks:     newKeyedLocker(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession inserts an empty session in the input stage.
func (s *Service) CreateSession(ctx context.Context) (chat.Summary, error) {
	session := chat.NewSession(uuid.NewString(), s.now())
	if err := s.store.Insert(ctx, session); err != nil {
		return chat.Summary{}, fmt.Errorf("create session: %w", err)
	}

	log.Printf("[session] created session=%s", session.ID)
	return chat.Summary{ID: session.ID, Stage: session.Stage}, nil
}

// GetSession returns a snapshot.
func (s *Service) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	return s.load(ctx, id)
}

// SubmitIssue records the user's issue and opens the conversation stage.
func (s *Service) SubmitIssue(ctx context.Context, id, content string) (*chat.Session, error) {
	return s.mutate(ctx, id, func(session *chat.Session) error {
		if err := requireStage(session, chat.StageInput); err != nil {
			return err
		}
		issue := content
		session.UserIssue = &issue
		session.Stage = chat.StageConversation
		return nil
	})
}

// RecordMood appends a mood sample keyed to the latest conversation message.
func (s *Service) RecordMood(ctx context.Context, id string, value int) (*chat.Session, error) {
	if value < 0 || value > 100 {
		return nil, ErrInvalidMood
	}

	return s.mutate(ctx, id, func(session *chat.Session) error {
		if err := requireStage(session, chat.StageConversation); err != nil {
			return err
		}
		if len(session.ConversationMessages) == 0 {
			return &InsufficientMessagesError{Required: 1}
		}
		session.MoodRatings = append(session.MoodRatings, chat.MoodRating{
			Value:             value,
			AfterMessageIndex: len(session.ConversationMessages) - 1,
		})
		return nil
	})
}

// ChatTurn prepares one streamed turn in the given stage, which must be
// conversation or roleSwap and must match the session. The user message is
// only persisted together with the reply when the returned Turn runs to
// completion.
func (s *Service) ChatTurn(ctx context.Context, id string, stage chat.Stage, content string) (*Turn, error) {
	if stage != chat.StageConversation && stage != chat.StageRoleSwap {
		return nil, fmt.Errorf("chat turn: unsupported stage %s", stage)
	}

	release, session, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := requireStage(session, stage); err != nil {
		release()
		return nil, err
	}

	if err := s.moderate(ctx, session, content); err != nil {
		release()
		return nil, err
	}

	now := s.now()
	issue := userIssue(session)

	target := &session.ConversationMessages
	system := prompts.Counselor.Build(issue)
	if stage == chat.StageRoleSwap {
		target = &session.PracticeMessages
		system = prompts.Confider.Build(issue)
	}
	*target = append(*target, chat.NewMessage(chat.RoleUser, content, now))

	return s.newTurn(session, release, ai.BuildMessages(system, *target, ""), target), nil
}

// CompleteConversation prepares the roleSwap opening. The stage change and
// the opening message are persisted together when the Turn completes.
func (s *Service) CompleteConversation(ctx context.Context, id string) (*Turn, error) {
	release, session, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := requireStage(session, chat.StageConversation); err != nil {
		release()
		return nil, err
	}
	if len(session.ConversationMessages) < minMessagesToComplete {
		release()
		return nil, &InsufficientMessagesError{Required: minMessagesToComplete}
	}

	issue := userIssue(session)
	session.Stage = chat.StageRoleSwap
	messages := ai.BuildMessages(prompts.Confider.Build(issue), nil, prompts.OpeningInstruction(issue))

	return s.newTurn(session, release, messages, &session.PracticeMessages), nil
}

// CompleteRoleSwap extracts annotations for the practice transcript and
// moves the session to review. On failure nothing is saved.
func (s *Service) CompleteRoleSwap(ctx context.Context, id string) (*chat.Session, error) {
	return s.mutate(ctx, id, func(session *chat.Session) error {
		if err := requireStage(session, chat.StageRoleSwap); err != nil {
			return err
		}
		if len(session.PracticeMessages) < minMessagesToComplete {
			return &InsufficientMessagesError{Required: minMessagesToComplete}
		}

		annotations, err := s.extractor.Extract(ctx, session.PracticeMessages)
		if err != nil {
			log.Printf("[session] annotation extraction failed session=%s: %v", session.ID, err)
			return err
		}

		session.Annotations = validAnnotations(session.ID, annotations, len(session.PracticeMessages))
		session.Stage = chat.StageReview
		return nil
	})
}

func (s *Service) load(ctx context.Context, id string) (*chat.Session, error) {
	session, err := s.store.Get(ctx, id)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return session, nil
}

// acquire takes the per-session lock and loads the aggregate.
func (s *Service) acquire(ctx context.Context, id string) (func(), *chat.Session, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.load(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return release, session, nil
}

// mutate runs fn on a private copy and saves it when fn succeeds.
func (s *Service) mutate(ctx context.Context, id string, fn func(*chat.Session) error) (*chat.Session, error) {
	release, session, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := fn(session); err != nil {
		return nil, err
	}

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) save(ctx context.Context, session *chat.Session) error {
	session.Touch(s.now())
	if err := s.store.Save(ctx, session); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, session.ID)
		}
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// moderate applies the policy to the verdict. A rejection terminates the
// session.
func (s *Service) moderate(ctx context.Context, session *chat.Session, content string) error {
	if s.moderator == nil {
		return nil
	}

	verdict := s.moderator.Check(ctx, content)
	if !verdict.Passed {
		log.Printf("[session] moderation flagged session=%s category=%s", session.ID, verdict.Category)
	}

	rejection := s.policy(verdict)
	if rejection == nil {
		return nil
	}

	session.Stage = chat.StageTerminated
	if err := s.save(ctx, session); err != nil {
		return err
	}
	log.Printf("[session] terminated session=%s by moderation", session.ID)
	return rejection
}

func validAnnotations(sessionID string, annotations []chat.Annotation, size int) []chat.Annotation {
	out := make([]chat.Annotation, 0, len(annotations))
	for _, annotation := range annotations {
		if annotation.MessageIndex < 0 || annotation.MessageIndex >= size {
			log.Printf("[session] dropping annotation with out-of-range index=%d session=%s", annotation.MessageIndex, sessionID)
			continue
		}
		out = append(out, annotation)
	}
	return out
}

func userIssue(session *chat.Session) string {
	if session.UserIssue == nil {
		return ""
	}
	return *session.UserIssue
}
