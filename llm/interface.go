package llm

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is one streamed completion call. APIKey is the caller's bearer credential.
type Request struct {
	Model    string
	APIKey   string
	Messages []Message
}

type Provider interface {
	ID() string
	Stream(ctx context.Context, req Request) (*Stream, error)
}
