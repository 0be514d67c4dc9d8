// ABOUTME: Provider-neutral request/response types and the Client interface for text generation.
// ABOUTME: Collaborator packages depend on this interface so tests can swap in fakes.
package llm

import "context"

// Message is one conversational turn.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int

	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// Response is the text result of a completion request.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client sends completion requests to a model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
