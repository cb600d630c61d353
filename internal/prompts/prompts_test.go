package prompts

import (
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
)

func TestCounselorIncludesIssue(t *testing.T) {
	prompt := Counselor.Build("work stress")
	if !strings.Contains(prompt, "work stress") {
		t.Fatalf("expected user issue in prompt, got %q", prompt)
	}
	if strings.Contains(prompt, "{user_issue}") {
		t.Fatal("placeholder left in prompt")
	}
}

func TestTranscriptSwapsLabels(t *testing.T) {
	now := time.Now()
	text := Transcript([]chat.Message{
		chat.NewMessage(chat.RoleAI, "我最近睡不好", now),
		chat.NewMessage(chat.RoleUser, "听起来你很累", now),
	})

	if !strings.Contains(text, "[0][倾诉者]: 我最近睡不好") {
		t.Fatalf("ai message should be labelled as confider: %q", text)
	}
	if !strings.Contains(text, "[1][倾听者]: 听起来你很累") {
		t.Fatalf("user message should be labelled as listener: %q", text)
	}
}
