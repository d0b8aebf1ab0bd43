package agent

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/nousos/nous/internal/domain"
)

// Greeting opens every fresh chat history.
const Greeting = "Hello! I'm NOUS, your AI assistant. How can I help you today?"

// Request is what the responder sees of an incoming user message.
type Request struct {
	UserID  string
	Content string
	Context string // e.g. "financial/cashflow"; empty when unset
	History []domain.Message
}

// Reply is an assistant message produced by a Responder.
type Reply struct {
	Content  string
	Metadata *domain.MessageMetadata
}

// Responder produces assistant replies.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

var contextReplies = []string{
	"Let me check your %s data...",
	"I found some interesting patterns in your %s.",
	"Based on your %s data, here's what I found...",
}

var genericReplies = []string{
	"I can help you with that! Let me find the information.",
	"Great question! Here's what I know...",
	"Let me analyze your data and get back to you.",
}

// CannedResponder picks one of a fixed set of replies. When the user has a
// context selected the reply names it and suggests navigating there.
type CannedResponder struct {
	pick func(n int) int
}

// NewCannedResponder creates a responder that picks replies at random.
func NewCannedResponder() *CannedResponder {
	return &CannedResponder{pick: rand.IntN}
}

// NewCannedResponderWithPicker creates a responder with a deterministic picker.
// pick receives the number of candidates and returns an index.
func NewCannedResponderWithPicker(pick func(n int) int) *CannedResponder {
	return &CannedResponder{pick: pick}
}

// Respond implements Responder.
func (r *CannedResponder) Respond(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	if req.Context == "" {
		return Reply{Content: genericReplies[r.index(len(genericReplies))]}, nil
	}

	tmpl := contextReplies[r.index(len(contextReplies))]
	return Reply{
		Content: strings.Replace(tmpl, "%s", req.Context, 1),
		Metadata: &domain.MessageMetadata{
			Action: "navigate",
			Target: "/domains/" + strings.Trim(req.Context, "/"),
		},
	}, nil
}

func (r *CannedResponder) index(n int) int {
	i := r.pick(n)
	if i < 0 || i >= n {
		return 0
	}
	return i
}
