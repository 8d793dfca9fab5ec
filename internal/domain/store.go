package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a conversation or related record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownTag is returned for tags outside the closed tag set.
	ErrUnknownTag = errors.New("unknown tag")
	// ErrInvalidValue is returned for values outside a closed set, such as a
	// typing party or a workflow status.
	ErrInvalidValue = errors.New("invalid value")
)

// ConversationStore serves conversation summaries, seeded history and customer data.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*ConversationSummary, error)
	SetAIHandling(ctx context.Context, id string, aiHandling bool) error
	RecordActivity(ctx context.Context, id, lastMessage string) error
	ViewDefaults(ctx context.Context, id string) (*ViewDefaults, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	Customer(ctx context.Context, conversationID string) (*Customer, error)
	Suggestion(ctx context.Context, conversationID string) (*Suggestion, error)
	Close() error
}

// ViewDefaults is the initial state of a freshly opened conversation view.
type ViewDefaults struct {
	Tags   []Tag  `json:"tags"`
	Typing Typing `json:"typing"`
}
