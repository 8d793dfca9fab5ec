package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdesk/internal/auth"
	"supportdesk/internal/domain"
	"supportdesk/internal/filter"
	"supportdesk/internal/metrics"
)

func newTestClient(t *testing.T, h http.Handler, mutate func(*Config)) (*Client, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	m := metrics.New()
	cfg := Config{
		BaseURL: srv.URL + "/api",
		Backoff: time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), m
}

func TestClient_SendsJSONAndBearerToken(t *testing.T) {
	var gotAuth, gotType, gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}), func(cfg *Config) { cfg.Token = "abc" })

	var out map[string]string
	require.NoError(t, c.Get(context.Background(), "status", &out))
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "/api/status", gotPath)
	assert.Equal(t, "yes", out["ok"])

	c.ClearToken()
	require.NoError(t, c.Get(context.Background(), "/status", nil))
	assert.Empty(t, gotAuth)
}

func TestClient_APIError(t *testing.T) {
	c, m := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusNotFound)
	}), nil)

	err := c.Get(context.Background(), "/conversations/x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "API Error: Not Found", apiErr.Error())
	assert.Equal(t, KindClient, apiErr.Kind())
	assert.Contains(t, apiErr.Body, "nope")
	n, err := testutil.GatherAndCount(m.Registry(), "supportdesk_client_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAPIError_Kind(t *testing.T) {
	assert.Equal(t, KindServer, (&APIError{StatusCode: 503}).Kind())
	assert.Equal(t, KindClient, (&APIError{StatusCode: 429}).Kind())
	assert.Equal(t, KindOther, (&APIError{StatusCode: 302}).Kind())
}

func TestClient_RetriesGetOnServerError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}), nil)

	var out []domain.ConversationSummary
	require.NoError(t, c.Get(context.Background(), "/conversations", &out))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_GetGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), nil)

	err := c.Get(context.Background(), "/conversations", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindServer, apiErr.Kind())
	assert.Equal(t, int32(1+DefaultRetries), calls.Load())
}

func TestClient_DoesNotRetryMutations(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	err := c.Post(context.Background(), "/conversations/1/messages", map[string]string{"content": "hi"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesDisabled(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), func(cfg *Config) { cfg.Retries = -1 })

	require.Error(t, c.Get(context.Background(), "/x", nil))
	assert.Equal(t, int32(1), calls.Load())
}

func TestKeys(t *testing.T) {
	k := KeysFor("conversations")
	assert.Equal(t, Key{"conversations"}, k.All())
	assert.Equal(t, Key{"conversations", "list"}, k.Lists())
	assert.Equal(t, Key{"conversations", "detail", "7"}, k.Detail("7"))

	list := k.List(url.Values{"q": {"sarah"}, "filter": {"ai"}})
	assert.Equal(t, Key{"conversations", "list", "filter=ai&q=sarah"}, list)
	assert.True(t, list.HasPrefix(k.Lists()))
	assert.True(t, list.HasPrefix(k.All()))
	assert.False(t, list.HasPrefix(k.Details()))
}

func TestCache_StaleAndInvalidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	k := ConversationKeys
	c.Set(k.Detail("1"), "one")
	c.Set(k.Detail("2"), "two")
	c.Set(k.List(nil), "list")

	v, ok := c.Get(k.Detail("1"))
	require.True(t, ok)
	assert.Equal(t, "one", v)

	assert.Equal(t, 2, c.Invalidate(k.Details()))
	_, ok = c.Get(k.Detail("1"))
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	now = now.Add(time.Minute)
	_, ok = c.Get(k.List(nil))
	assert.False(t, ok, "entry older than the stale time is not served")
}

// fakeAPI serves the conversation endpoints and counts requests per path.
type fakeAPI struct {
	hits map[string]int
	mux  *http.ServeMux
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{hits: make(map[string]int), mux: http.NewServeMux()}
	f.mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		f.hits["list?"+r.URL.RawQuery]++
		json.NewEncoder(w).Encode([]domain.ConversationSummary{{ID: "1", Name: "Sarah"}})
	})
	f.mux.HandleFunc("GET /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.hits["detail/"+r.PathValue("id")]++
		json.NewEncoder(w).Encode(ConversationDetail{Conversation: &domain.ConversationSummary{ID: r.PathValue("id")}})
	})
	f.mux.HandleFunc("GET /api/conversations/{id}/timeline", func(w http.ResponseWriter, r *http.Request) {
		f.hits["timeline/"+r.PathValue("id")]++
		w.Write([]byte(`{"messages":[],"typing":"user","sending":false,"view":{"conversationId":"1","tags":[]}}`))
	})
	f.mux.HandleFunc("POST /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(SendResult{Accepted: body.Content != "", ID: "9"})
	})
	f.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var form auth.LoginForm
		json.NewDecoder(r.Body).Decode(&form)
		if form.Password != "secret1" {
			http.Error(w, `{"error":"bad"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(auth.Session{ID: "sess-1", Email: form.Email, Redirect: "/"})
	})
	return f
}

func TestConversations_CachesListAndDetail(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api.mux, nil)
	svc := NewConversations(c, NewCache(0))
	ctx := context.Background()

	for range 2 {
		list, err := svc.List(ctx, "sar", filter.AI)
		require.NoError(t, err)
		require.Len(t, list, 1)
		_, err = svc.Get(ctx, "1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.hits["list?filter=ai&q=sar"])
	assert.Equal(t, 1, api.hits["detail/1"])

	_, err := svc.List(ctx, "", filter.All)
	require.NoError(t, err)
	assert.Equal(t, 1, api.hits["list?"], "the all filter is not sent")
}

func TestConversations_SendInvalidatesDetailAndLists(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api.mux, nil)
	svc := NewConversations(c, NewCache(0))
	ctx := context.Background()

	_, err := svc.List(ctx, "", filter.All)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "1")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "2")
	require.NoError(t, err)

	res, err := svc.Send(ctx, "1", "Hello")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "9", res.ID)

	_, err = svc.List(ctx, "", filter.All)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "1")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "2")
	require.NoError(t, err)

	assert.Equal(t, 2, api.hits["list?"])
	assert.Equal(t, 2, api.hits["detail/1"])
	assert.Equal(t, 1, api.hits["detail/2"], "other details stay cached")
}

func TestConversations_TimelineIsNotCached(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api.mux, nil)
	svc := NewConversations(c, NewCache(0))

	for range 2 {
		tl, err := svc.Timeline(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, domain.TypingUser, tl.Typing)
		assert.Equal(t, "1", tl.View.ConversationID)
	}
	assert.Equal(t, 2, api.hits["timeline/1"])
}

func TestConversations_LoginStoresToken(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api.mux, nil)
	svc := NewConversations(c, nil)

	_, err := svc.Login(context.Background(), auth.LoginForm{Email: "a@b.co", Password: "wrong1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Empty(t, c.Token())

	sess, err := svc.Login(context.Background(), auth.LoginForm{Email: "a@b.co", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "sess-1", c.Token())
}
