package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
)

// Turn is a validated streaming operation that holds the session lock. Run
// it once, or Close it to give up; both release the lock.
type Turn struct {
	svc      *Service
	session  *chat.Session
	messages []*schema.Message
	target   *[]chat.Message
	release  func()
	once     sync.Once
}

func (s *Service) newTurn(session *chat.Session, release func(), messages []*schema.Message, target *[]chat.Message) *Turn {
	return &Turn{
		svc:      s,
		session:  session,
		messages: messages,
		target:   target,
		release:  release,
	}
}

// SessionID identifies the session the turn belongs to.
func (t *Turn) SessionID() string {
	return t.session.ID
}

// Run streams the reply, passing each delta to onDelta in arrival order.
// When the stream is exhausted the reply is appended and the session saved;
// the returned index is the reply's position in its transcript. On any
// model failure nothing is saved and an *ai.LLMError is returned.
func (t *Turn) Run(ctx context.Context, onDelta func(string)) (int, error) {
	defer t.Close()

	callCtx := ctx
	if t.svc.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.svc.timeout)
		defer cancel()
	}

	reply, err := t.relay(callCtx, onDelta)
	if err != nil {
		log.Printf("[stream] model stream failed session=%s: %v", t.session.ID, err)
		return 0, err
	}

	*t.target = append(*t.target, chat.NewMessage(chat.RoleAI, reply, t.svc.now()))
	index := len(*t.target) - 1

	// The reply is complete; persist it even if the caller went away.
	if err := t.svc.save(context.WithoutCancel(ctx), t.session); err != nil {
		return 0, err
	}

	log.Printf("[stream] completed turn session=%s stage=%s index=%d", t.session.ID, t.session.Stage, index)
	return index, nil
}

// Close releases the session without running. Safe after Run.
func (t *Turn) Close() {
	t.once.Do(t.release)
}

func (t *Turn) relay(ctx context.Context, onDelta func(string)) (string, error) {
	stream, err := t.svc.llm.StreamChat(ctx, t.messages, ai.TierMain)
	if err != nil {
		return "", ai.NewLLMError(err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 16)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", ai.NewLLMError(recvErr)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		chunks = append(chunks, chunk)
		if onDelta != nil {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", &ai.LLMError{Detail: "empty model response"}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", ai.NewLLMError(err)
	}
	return response.Content, nil
}
