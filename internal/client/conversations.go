package client

import (
	"context"
	"net/url"

	"supportdesk/internal/auth"
	"supportdesk/internal/desk"
	"supportdesk/internal/domain"
	"supportdesk/internal/filter"
	"supportdesk/internal/timeline"
)

// ConversationKeys are the cache keys of the conversations entity.
var ConversationKeys = KeysFor("conversations")

// ConversationDetail is the body of GET /conversations/{id}.
type ConversationDetail struct {
	Conversation *domain.ConversationSummary `json:"conversation"`
	Customer     *domain.Customer            `json:"customer,omitempty"`
	Suggestion   *domain.Suggestion          `json:"suggestion,omitempty"`
}

// Timeline is the body of GET /conversations/{id}/timeline.
type Timeline struct {
	timeline.Snapshot
	View desk.ViewState `json:"view"`
}

// SendResult reports whether the server accepted a message.
type SendResult struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

// Conversations wraps the conversation endpoints with a response cache.
type Conversations struct {
	c     *Client
	cache *Cache
}

// NewConversations creates the service. A nil cache disables caching.
func NewConversations(c *Client, cache *Cache) *Conversations {
	return &Conversations{c: c, cache: cache}
}

// List returns the filtered sidebar list.
func (s *Conversations) List(ctx context.Context, query string, key filter.Key) ([]domain.ConversationSummary, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if key != "" && key != filter.All {
		params.Set("filter", string(key))
	}
	return cached(ctx, s.cache, ConversationKeys.List(params), func(ctx context.Context) ([]domain.ConversationSummary, error) {
		endpoint := "/conversations"
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
		var out []domain.ConversationSummary
		err := s.c.Get(ctx, endpoint, &out)
		return out, err
	})
}

// Get returns one conversation with its customer and suggestion.
func (s *Conversations) Get(ctx context.Context, id string) (*ConversationDetail, error) {
	return cached(ctx, s.cache, ConversationKeys.Detail(id), func(ctx context.Context) (*ConversationDetail, error) {
		var out ConversationDetail
		if err := s.c.Get(ctx, "/conversations/"+url.PathEscape(id), &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Timeline returns the live timeline. It is never cached.
func (s *Conversations) Timeline(ctx context.Context, id string) (*Timeline, error) {
	var out Timeline
	if err := s.c.Get(ctx, "/conversations/"+url.PathEscape(id)+"/timeline", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts a staff message and invalidates the cached detail and lists.
func (s *Conversations) Send(ctx context.Context, id, content string) (*SendResult, error) {
	var out SendResult
	body := map[string]string{"content": content}
	if err := s.c.Post(ctx, "/conversations/"+url.PathEscape(id)+"/messages", body, &out); err != nil {
		return nil, err
	}
	if s.cache != nil && out.Accepted {
		s.cache.Invalidate(ConversationKeys.Detail(id))
		s.cache.Invalidate(ConversationKeys.Lists())
	}
	return &out, nil
}

// Login exchanges credentials for a session and stores its id as the
// bearer token.
func (s *Conversations) Login(ctx context.Context, form auth.LoginForm) (*auth.Session, error) {
	var out auth.Session
	if err := s.c.Post(ctx, "/auth/login", form, &out); err != nil {
		return nil, err
	}
	s.c.SetToken(out.ID)
	return &out, nil
}
