// Package chat runs the per-user assistant conversation: history seeded
// with a greeting, user messages answered by a Responder after a typing
// delay, a selected data context and full-text search over past messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nousos/nous/internal/agent"
	"github.com/nousos/nous/internal/domain"
	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/logging"
	"github.com/nousos/nous/internal/ratelimit"
)

// Event types delivered to listeners.
const (
	EventTyping  = "chat.typing"
	EventMessage = "chat.message"
)

const maxContentLen = 8000

var (
	ErrEmptyMessage = errors.New("message content is required")
	ErrTooLong      = errors.New("message content is too long")
)

// LimitError is returned by Send when the user is over a rate limit.
type LimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached, retry in %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// Store persists chat history. *store.ChatStore implements it.
type Store interface {
	Append(ctx context.Context, userID string, msg *domain.Message) error
	Messages(ctx context.Context, userID string) ([]domain.Message, error)
	Search(ctx context.Context, userID, query string, limit int) ([]domain.Message, error)
	Clear(ctx context.Context, userID string) error
	SetContext(ctx context.Context, userID, chatContext string) error
	Context(ctx context.Context, userID string) (string, error)
}

// Event is a realtime notification about a user's chat.
type Event struct {
	Type    string          `json:"type"`
	UserID  string          `json:"userId"`
	Typing  bool            `json:"typing"`
	Message *domain.Message `json:"message,omitempty"`
}

// Listener receives chat events. It must not block.
type Listener func(Event)

// Options tune a Service.
type Options struct {
	Greeting   string
	ReplyDelay time.Duration
	Limiter    *ratelimit.Limiter // nil disables limits
	Hooks      *hooks.Manager
}

// Exchange is the result of a successful Send.
type Exchange struct {
	Message domain.Message `json:"message"`
	Reply   domain.Message `json:"reply"`
}

// Service is the chat engine shared by the REST and WebSocket surfaces.
type Service struct {
	store     Store
	responder agent.Responder
	opts      Options
	log       *logging.Logger

	limitMu sync.Mutex

	mu     sync.Mutex
	typing map[string]int

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates a chat service.
func New(store Store, responder agent.Responder, opts Options, log *logging.Logger) *Service {
	if opts.Greeting == "" {
		opts.Greeting = agent.Greeting
	}
	return &Service{
		store:     store,
		responder: responder,
		opts:      opts,
		log:       log.Sub("chat"),
		typing:    make(map[string]int),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l for every chat event and returns a function that
// removes it.
func (s *Service) Subscribe(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Service) publish(ev Event) {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	for _, l := range s.listeners {
		l(ev)
	}
}

// Messages returns the user's history, seeding it with the greeting when
// it is empty.
func (s *Service) Messages(ctx context.Context, userID string) ([]domain.Message, error) {
	msgs, err := s.store.Messages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	if len(msgs) > 0 {
		return msgs, nil
	}

	greeting, err := s.greet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return []domain.Message{greeting}, nil
}

func (s *Service) greet(ctx context.Context, userID string) (domain.Message, error) {
	msg := domain.Message{Role: domain.RoleAssistant, Content: s.opts.Greeting}
	if err := s.store.Append(ctx, userID, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("seeding greeting: %w", err)
	}
	return msg, nil
}

// Send stores a user message, waits the reply delay with the typing flag
// set, then stores and returns the assistant's reply.
func (s *Service) Send(ctx context.Context, userID, content string, metadata *domain.MessageMetadata) (*Exchange, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > maxContentLen {
		return nil, ErrTooLong
	}
	if err := s.consume(userID); err != nil {
		return nil, err
	}

	history, err := s.Messages(ctx, userID)
	if err != nil {
		return nil, err
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: content, Metadata: metadata}
	if err := s.append(ctx, userID, &userMsg); err != nil {
		return nil, err
	}

	chatContext, err := s.store.Context(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading chat context: %w", err)
	}

	s.setTyping(userID, true)
	defer s.setTyping(userID, false)

	if err := sleep(ctx, s.opts.ReplyDelay); err != nil {
		return nil, err
	}

	reply, err := s.responder.Respond(ctx, agent.Request{
		UserID:  userID,
		Content: content,
		Context: chatContext,
		History: append(history, userMsg),
	})
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}

	replyMsg := domain.Message{Role: domain.RoleAssistant, Content: reply.Content, Metadata: reply.Metadata}
	if err := s.append(ctx, userID, &replyMsg); err != nil {
		return nil, err
	}

	s.log.Debug().Str("user", userID).Str("context", chatContext).Msg("chat reply sent")
	return &Exchange{Message: userMsg, Reply: replyMsg}, nil
}

// consume takes one chat and one action slot, or neither.
func (s *Service) consume(userID string) error {
	l := s.opts.Limiter
	if l == nil {
		return nil
	}

	s.limitMu.Lock()
	defer s.limitMu.Unlock()

	for _, scope := range []string{ratelimit.ScopeChat, ratelimit.ScopeActions} {
		if res := l.Peek(scope, userID); !res.Allowed {
			return &LimitError{Scope: scope, RetryAfter: res.RetryAfter}
		}
	}
	l.Record(ratelimit.ScopeChat, userID)
	l.Record(ratelimit.ScopeActions, userID)
	return nil
}

func (s *Service) append(ctx context.Context, userID string, msg *domain.Message) error {
	if err := s.store.Append(ctx, userID, msg); err != nil {
		return fmt.Errorf("storing %s message: %w", msg.Role, err)
	}
	m := *msg
	s.publish(Event{Type: EventMessage, UserID: userID, Message: &m})
	s.opts.Hooks.Emit(ctx, hooks.EventChatMessage, map[string]any{
		"userId":    userID,
		"role":      string(msg.Role),
		"messageId": msg.ID,
	})
	return nil
}

func (s *Service) setTyping(userID string, on bool) {
	s.mu.Lock()
	if on {
		s.typing[userID]++
	} else if s.typing[userID]--; s.typing[userID] <= 0 {
		delete(s.typing, userID)
	}
	typing := s.typing[userID] > 0
	s.mu.Unlock()

	s.publish(Event{Type: EventTyping, UserID: userID, Typing: typing})
}

// Typing reports whether a reply is being prepared for the user.
func (s *Service) Typing(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing[userID] > 0
}

// Clear wipes the user's history and returns the fresh greeting-only history.
func (s *Service) Clear(ctx context.Context, userID string) ([]domain.Message, error) {
	if err := s.store.Clear(ctx, userID); err != nil {
		return nil, fmt.Errorf("clearing chat history: %w", err)
	}
	greeting, err := s.greet(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.publish(Event{Type: EventMessage, UserID: userID, Message: &greeting})
	s.opts.Hooks.Emit(ctx, hooks.EventChatCleared, map[string]any{"userId": userID})
	s.log.Debug().Str("user", userID).Msg("chat cleared")
	return []domain.Message{greeting}, nil
}

// SetContext selects the data context replies refer to, e.g.
// "financial/cashflow". An empty value clears it.
func (s *Service) SetContext(ctx context.Context, userID, chatContext string) error {
	chatContext = strings.Trim(strings.TrimSpace(chatContext), "/")
	if err := s.store.SetContext(ctx, userID, chatContext); err != nil {
		return fmt.Errorf("storing chat context: %w", err)
	}
	return nil
}

// Context returns the selected data context, "" when none.
func (s *Service) Context(ctx context.Context, userID string) (string, error) {
	return s.store.Context(ctx, userID)
}

// Search returns the user's messages matching query, best first.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]domain.Message, error) {
	return s.store.Search(ctx, userID, query, limit)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
