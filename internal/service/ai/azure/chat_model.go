// Package azure adapts Azure OpenAI chat completions to the eino chat model
// interface, so it can be used wherever the Ark model is.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Config holds call defaults; per-call model options override them.
type Config struct {
	Deployment  string
	Temperature *float32
	MaxTokens   *int
	TopP        *float32
}

// ChatModel implements model.BaseChatModel on top of an azopenai client.
type ChatModel struct {
	client *azopenai.Client
	cfg    Config
}

// NewChatModel wraps an existing client.
func NewChatModel(client *azopenai.Client, cfg Config) *ChatModel {
	return &ChatModel{client: client, cfg: cfg}
}

// Generate returns the complete assistant reply.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := m.options(opts...)

	resp, err := m.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: options.Model,
		Messages:       toRequestMessages(input),
		MaxTokens:      toInt32(options.MaxTokens),
		Temperature:    options.Temperature,
		TopP:           options.TopP,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("Azure OpenAI request failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("no completion received from Azure OpenAI")
	}
	return schema.AssistantMessage(*resp.Choices[0].Message.Content, nil), nil
}

// Stream relays content deltas through an eino stream. Closing the returned
// reader stops the relay goroutine.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	options := m.options(opts...)

	resp, err := m.client.GetChatCompletionsStream(ctx, azopenai.ChatCompletionsStreamOptions{
		DeploymentName: options.Model,
		Messages:       toRequestMessages(input),
		MaxTokens:      toInt32(options.MaxTokens),
		Temperature:    options.Temperature,
		TopP:           options.TopP,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("Azure OpenAI stream request failed: %w", err)
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		defer resp.ChatCompletionsStream.Close()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[azure] stream relay panic: %v", r)
				writer.Send(nil, fmt.Errorf("azure stream panic: %v", r))
			}
		}()

		for {
			completion, readErr := resp.ChatCompletionsStream.Read()
			if errors.Is(readErr, io.EOF) {
				return
			}
			if readErr != nil {
				writer.Send(nil, readErr)
				return
			}

			for _, choice := range completion.Choices {
				if choice.Delta == nil || choice.Delta.Content == nil || *choice.Delta.Content == "" {
					continue
				}
				chunk := &schema.Message{Role: schema.Assistant, Content: *choice.Delta.Content}
				if closed := writer.Send(chunk, nil); closed {
					return
				}
			}
		}
	}()

	return reader, nil
}

func (m *ChatModel) options(opts ...model.Option) *model.Options {
	deployment := m.cfg.Deployment
	return model.GetCommonOptions(&model.Options{
		Model:       &deployment,
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
		TopP:        m.cfg.TopP,
	}, opts...)
}

func toRequestMessages(input []*schema.Message) []azopenai.ChatRequestMessageClassification {
	messages := make([]azopenai.ChatRequestMessageClassification, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			messages = append(messages, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(msg.Content),
			})
		case schema.Assistant:
			messages = append(messages, &azopenai.ChatRequestAssistantMessage{
				Content: azopenai.NewChatRequestAssistantMessageContent(msg.Content),
			})
		default:
			messages = append(messages, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(msg.Content),
			})
		}
	}
	return messages
}

func toInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	out := int32(*v)
	return &out
}
