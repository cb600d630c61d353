package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
	"github.com/zhouzirui/talk-practice/backend/internal/service/moderation"
	"github.com/zhouzirui/talk-practice/backend/internal/store/memory"
)

// streamScript describes the behaviour of one StreamChat call.
type streamScript struct {
	chunks  []string
	failErr error // sent after chunks when set
	openErr error
	hang    bool // block until ctx ends
}

type fakeLLM struct {
	mu            sync.Mutex
	scripts       []streamScript
	structured    string
	structuredErr error
	streamCalls   [][]*schema.Message
	lastTier      ai.Tier
}

func (f *fakeLLM) queue(scripts ...streamScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, scripts...)
}

func (f *fakeLLM) StreamChat(ctx context.Context, messages []*schema.Message, tier ai.Tier) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, messages)
	f.lastTier = tier
	if len(f.scripts) == 0 {
		f.mu.Unlock()
		return nil, errors.New("no scripted reply")
	}
	script := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.mu.Unlock()

	if script.openErr != nil {
		return nil, script.openErr
	}

	reader, writer := schema.Pipe[*schema.Message](len(script.chunks) + 1)
	if script.hang {
		go func() {
			defer writer.Close()
			<-ctx.Done()
			writer.Send(nil, ctx.Err())
		}()
		return reader, nil
	}

	for _, chunk := range script.chunks {
		writer.Send(&schema.Message{Role: schema.Assistant, Content: chunk}, nil)
	}
	if script.failErr != nil {
		writer.Send(nil, script.failErr)
	}
	writer.Close()
	return reader, nil
}

func (f *fakeLLM) StructuredChat(_ context.Context, _ []*schema.Message, tier ai.Tier, out any) error {
	f.mu.Lock()
	f.lastTier = tier
	reply, err := f.structured, f.structuredErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	return ai.DecodeStructured(reply, out)
}

type fixedModerator struct {
	verdict moderation.Verdict
	calls   int
}

func (m *fixedModerator) Check(context.Context, string) moderation.Verdict {
	m.calls++
	return m.verdict
}

func newTestService(t *testing.T, llm *fakeLLM, moderator Moderator, policy moderation.Policy) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store, llm, moderator, Config{CallTimeout: time.Second, Policy: policy})
	return svc, store
}

// runTurn runs a prepared turn and collects the relayed deltas.
func runTurn(t *testing.T, turn *Turn) (int, []string, error) {
	t.Helper()
	var deltas []string
	index, err := turn.Run(context.Background(), func(delta string) {
		deltas = append(deltas, delta)
	})
	return index, deltas, err
}
