// Package filter narrows and orders the conversation list.
package filter

import (
	"fmt"
	"slices"
	"strings"

	"supportdesk/internal/domain"
)

// Key selects a category of conversations.
type Key string

const (
	All       Key = "all"
	Urgent    Key = "urgent"
	Escalated Key = "escalated"
	Waiting   Key = "waiting"
	Active    Key = "active"
	AI        Key = "ai"
	TakenOver Key = "taken-over"
)

// Keys returns the closed set of filter keys in menu order.
func Keys() []Key {
	return []Key{All, Urgent, Escalated, Waiting, Active, AI, TakenOver}
}

// ParseKey validates a filter key. The empty string means All.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return All, nil
	}
	k := Key(strings.ToLower(s))
	if slices.Contains(Keys(), k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// Matches reports whether c belongs to the category k. Unknown keys match nothing.
func (k Key) Matches(c domain.ConversationSummary) bool {
	switch k {
	case All:
		return true
	case Urgent:
		return c.Status == domain.ConversationUrgent
	case Escalated:
		return c.Status == domain.ConversationEscalated
	case Waiting:
		return c.Status == domain.ConversationWaiting
	case Active:
		return c.Status == domain.ConversationActive
	case AI:
		return c.IsAIHandling
	case TakenOver:
		return !c.IsAIHandling
	default:
		return false
	}
}

// Apply returns the conversations whose name contains query (case-insensitive)
// and that match key, ordered by unread count descending. Equal counts keep
// their input order. The input slice is never modified.
func Apply(convs []domain.ConversationSummary, query string, key Key) []domain.ConversationSummary {
	q := strings.ToLower(query)
	out := make([]domain.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if q != "" && !strings.Contains(strings.ToLower(c.Name), q) {
			continue
		}
		if !key.Matches(c) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b domain.ConversationSummary) int {
		return b.Unread - a.Unread
	})
	return out
}
