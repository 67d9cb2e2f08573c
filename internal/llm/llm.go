// Package llm defines the text-generation client interface and an
// implementation for OpenAI-compatible chat completion APIs.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates a reply for an ordered list of conversation turns.
// conversationID identifies the destination so stateful backends can keep
// continuity across calls.
type Client interface {
	Chat(ctx context.Context, conversationID string, msgs []Message) (string, error)
}
