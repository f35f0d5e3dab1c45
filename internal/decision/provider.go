package decision

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a provider-neutral conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral request payload.
type Request struct {
	System   string
	Messages []Message
}

// InvokeOptions tunes a single Invoke call.
type InvokeOptions struct {
	// JSONMode asks the provider to reply with a JSON object.
	JSONMode bool
	// MaxTokens caps the reply length. Zero uses the client default.
	MaxTokens int
	// MaxRetries is the number of retries after the first attempt for
	// retryable failures.
	MaxRetries int
}

// Call is what a Provider receives for one attempt.
type Call struct {
	ModelID   string
	Request   Request
	JSONMode  bool
	MaxTokens int
}

// Result is a provider reply. Content is nil when the provider returned no text.
type Result struct {
	Content      *string
	Images       []string
	InputTokens  int64
	OutputTokens int64
}

// Text returns the content or "".
func (r *Result) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// Provider performs a single request against one reasoning backend.
// Implementations return *ProviderError for classified failures; other errors
// are classified by the Client.
type Provider interface {
	Name() string
	Complete(ctx context.Context, call Call) (*Result, error)
}
