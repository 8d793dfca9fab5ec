package domain

import (
	"fmt"
	"time"
)

// ConversationStatus is the queue state shown in the conversation list.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationWaiting   ConversationStatus = "waiting"
	ConversationEscalated ConversationStatus = "escalated"
	ConversationUrgent    ConversationStatus = "urgent"
)

// Valid reports whether s is one of the known list statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationWaiting, ConversationEscalated, ConversationUrgent:
		return true
	}
	return false
}

// ConversationSummary is a conversation list entry.
type ConversationSummary struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Avatar       string             `json:"avatar,omitempty"`
	LastMessage  string             `json:"lastMessage"`
	Time         string             `json:"time"`
	Unread       int                `json:"unread"`
	Status       ConversationStatus `json:"status"`
	IsAIHandling bool               `json:"isAiHandling"`
	LastActivity time.Time          `json:"lastActivity"`
}

// ViewStatus is the workflow state an agent assigns inside an open conversation.
type ViewStatus string

const (
	ViewActive    ViewStatus = "active"
	ViewWaiting   ViewStatus = "waiting"
	ViewEscalated ViewStatus = "escalated"
	ViewResolved  ViewStatus = "resolved"
)

// ParseViewStatus validates a workflow state name.
func ParseViewStatus(s string) (ViewStatus, error) {
	switch v := ViewStatus(s); v {
	case ViewActive, ViewWaiting, ViewEscalated, ViewResolved:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown conversation status %q", ErrInvalidValue, s)
}

// Tag labels an open conversation. The set is closed.
type Tag string

const (
	TagVIP       Tag = "vip"
	TagUrgent    Tag = "urgent"
	TagEscalated Tag = "escalated"
	TagFollowUp  Tag = "follow-up"
	TagResolved  Tag = "resolved"
	TagPending   Tag = "pending"
)

// Tags lists every known tag in display order.
func Tags() []Tag {
	return []Tag{TagVIP, TagUrgent, TagEscalated, TagFollowUp, TagResolved, TagPending}
}

// ParseTag validates a tag name.
func ParseTag(s string) (Tag, error) {
	for _, t := range Tags() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

// Customer is the profile shown next to a conversation.
type Customer struct {
	ConversationID string          `json:"conversationId" yaml:"conversationId"`
	Name           string          `json:"name" yaml:"name"`
	Email          string          `json:"email" yaml:"email"`
	Phone          string          `json:"phone" yaml:"phone"`
	Location       string          `json:"location" yaml:"location"`
	MemberSince    string          `json:"memberSince" yaml:"memberSince"`
	Tier           string          `json:"tier" yaml:"tier"`
	TotalBookings  int             `json:"totalBookings" yaml:"totalBookings"`
	History        []HistoryRecord `json:"history" yaml:"history"`
	Notes          string          `json:"notes" yaml:"notes"`
}

// HistoryRecord is a past interaction with the customer.
type HistoryRecord struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Date        string `json:"date" yaml:"date"`
	Status      string `json:"status" yaml:"status"`
}

// Suggestion is an AI-drafted reply awaiting agent review.
type Suggestion struct {
	ConversationID string `json:"conversationId" yaml:"conversationId"`
	Content        string `json:"content" yaml:"content"`
	Confidence     int    `json:"confidence" yaml:"confidence"`
}
