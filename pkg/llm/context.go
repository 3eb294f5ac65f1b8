package llm

import (
	"context"
	"net/http"
)

type contextKey string

const conversationIDKey contextKey = "llm_conversation_id"

// requestIDHeader carries the conversation id on outbound LLM requests so
// provider-side logs can be correlated with a conversation.
const requestIDHeader = "X-Request-Id"

// WithConversationID returns a context tagged with the conversation id.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

// ConversationID returns the conversation id attached to ctx, if any.
func ConversationID(ctx context.Context) string {
	if id, ok := ctx.Value(conversationIDKey).(string); ok {
		return id
	}
	return ""
}

// contextAwareTransport copies the conversation id from the request context
// into the X-Request-Id header.
type contextAwareTransport struct {
	base http.RoundTripper
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := ConversationID(req.Context()); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, id)
	}
	return t.base.RoundTrip(req)
}
