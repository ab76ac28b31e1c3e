// Package chat renders conversations into the ChatML prompt format used by
// Qwen2 instruct checkpoints.
package chat

import (
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatML turn markers.
const (
	StartOfTurn = "<|im_start|>"
	EndOfTurn   = "<|im_end|>"
)

// QwenDefaultSystem is inserted by the Qwen2.5 template when a conversation
// does not open with a system turn.
const QwenDefaultSystem = "You are Qwen, created by Alibaba Cloud. You are a helpful assistant."

var ErrEmptyConversation = errors.New("chat: no messages")

type Message struct {
	Role    string
	Content string
}

type Options struct {
	Messages            []Message
	AddGenerationPrompt bool
	// DefaultSystem, when non-empty, is emitted as the system turn if the
	// first message is not one.
	DefaultSystem string
}

// Render produces
//
//	<|im_start|>role\ncontent<|im_end|>\n
//
// for each message, followed by "<|im_start|>assistant\n" when a generation
// prompt is requested.
func Render(opts Options) (string, error) {
	if len(opts.Messages) == 0 {
		return "", ErrEmptyConversation
	}
	var b strings.Builder
	if opts.DefaultSystem != "" && opts.Messages[0].Role != RoleSystem {
		writeTurn(&b, RoleSystem, opts.DefaultSystem)
	}
	for i, m := range opts.Messages {
		switch m.Role {
		case RoleSystem:
			if i != 0 {
				return "", fmt.Errorf("chat: system message at position %d", i)
			}
		case RoleUser, RoleAssistant:
		default:
			return "", fmt.Errorf("chat: unknown role %q", m.Role)
		}
		writeTurn(&b, m.Role, m.Content)
	}
	if opts.AddGenerationPrompt {
		b.WriteString(StartOfTurn)
		b.WriteString(RoleAssistant)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func writeTurn(b *strings.Builder, role, content string) {
	b.WriteString(StartOfTurn)
	b.WriteString(role)
	b.WriteByte('\n')
	b.WriteString(content)
	b.WriteString(EndOfTurn)
	b.WriteByte('\n')
}

// IsChatML reports whether a tokenizer chat_template uses ChatML markers. An
// empty template is treated as ChatML.
func IsChatML(template string) bool {
	if strings.TrimSpace(template) == "" {
		return true
	}
	return strings.Contains(template, StartOfTurn) && strings.Contains(template, EndOfTurn)
}
