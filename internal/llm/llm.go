// Package llm holds the external model interfaces the control core depends
// on: a black-box completion function and an embedding function. The core
// never sees SDK types, only these contracts.
package llm

import "context"

// Role identifies a message author.
type Role string

const (
	// RoleUser is worker- or orchestrator-authored input.
	RoleUser Role = "user"
	// RoleAssistant is model-authored output.
	RoleAssistant Role = "assistant"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    Role
	Content string
}

// Request describes a completion call.
type Request struct {
	// Model names the model to complete with.
	Model string
	// System is the system prompt, empty for none.
	System string
	// Messages is the conversation so far.
	Messages []Message
	// MaxTokens caps the response length; 0 uses the client default.
	MaxTokens int
}

// Response is the result of a completion call.
type Response struct {
	// Text is the model's reply.
	Text string
	// InputTokens and OutputTokens are billing counts for the call.
	InputTokens  int64
	OutputTokens int64
}

// Completer is the black-box completion function the expert agent calls.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
