package directory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var seedTime = time.Date(2024, 12, 1, 10, 30, 0, 0, time.UTC)

func seededStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetClock(func() time.Time { return seedTime })

	seed, err := DefaultSeed()
	require.NoError(t, err)
	require.NoError(t, store.Seed(context.Background(), seed))
	return store
}

func TestDefaultSeed_IsValid(t *testing.T) {
	seed, err := DefaultSeed()
	require.NoError(t, err)
	require.Len(t, seed.Conversations, 6)

	sarah := seed.Conversations[0]
	assert.Equal(t, "Sarah Johnson", sarah.Name)
	assert.Len(t, sarah.Messages, 8)
	assert.True(t, sarah.Messages[6].IsEscalation)
	assert.Equal(t, domain.StatusDelivered, sarah.Messages[7].Status)
	assert.Equal(t, 2*time.Minute, sarah.LastActivityAgo)
	require.NotNil(t, sarah.Suggestion)
	assert.Equal(t, 94, sarah.Suggestion.Confidence)
}

func TestListConversations_SeedOrderAndDisplayTime(t *testing.T) {
	store := seededStore(t)

	convs, err := store.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 6)

	var unread []int
	for _, c := range convs {
		unread = append(unread, c.Unread)
	}
	assert.Equal(t, []int{3, 1, 0, 0, 5, 0}, unread)

	assert.Equal(t, "2m ago", convs[0].Time)
	assert.Equal(t, "25m ago", convs[4].Time)
	assert.Equal(t, "1h ago", convs[5].Time)
	assert.Equal(t, domain.ConversationUrgent, convs[4].Status)
	assert.True(t, convs[2].IsAIHandling)
	assert.False(t, convs[0].IsAIHandling)
}

func TestGetConversation_NotFound(t *testing.T) {
	store := seededStore(t)
	_, err := store.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessages_PreserveOrderAndFields(t *testing.T) {
	store := seededStore(t)
	msgs, err := store.Messages(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, msgs, 8)

	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, domain.SenderUser, msgs[0].Sender)
	assert.Equal(t, domain.StatusNone, msgs[0].Status)
	assert.True(t, msgs[6].IsEscalation)
	assert.Equal(t, domain.SenderStaff, msgs[7].Sender)
	assert.Equal(t, "John Doe", msgs[7].SenderName)
	assert.Equal(t, domain.StatusDelivered, msgs[7].Status)

	_, err = store.Messages(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetAIHandling(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetAIHandling(ctx, "1", true))
	c, err := store.GetConversation(ctx, "1")
	require.NoError(t, err)
	assert.True(t, c.IsAIHandling)

	assert.ErrorIs(t, store.SetAIHandling(ctx, "missing", true), domain.ErrNotFound)
}

func TestRecordActivity(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordActivity(ctx, "6", "See you soon"))
	c, err := store.GetConversation(ctx, "6")
	require.NoError(t, err)
	assert.Equal(t, "See you soon", c.LastMessage)
	assert.Equal(t, "just now", c.Time)
}

func TestCustomerAndSuggestion(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	cu, err := store.Customer(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "sarah.johnson@email.com", cu.Email)
	assert.Equal(t, "Gold", cu.Tier)
	assert.Equal(t, 12, cu.TotalBookings)
	assert.Len(t, cu.History, 4)
	assert.Contains(t, cu.Notes, "Prefers high floors")

	sg, err := store.Suggestion(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 94, sg.Confidence)
	assert.Contains(t, sg.Content, "Executive Suite")

	_, err = store.Customer(ctx, "2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Suggestion(ctx, "2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestViewDefaults(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	vd, err := store.ViewDefaults(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Tag{domain.TagVIP}, vd.Tags)
	assert.Equal(t, domain.TypingUser, vd.Typing)

	vd, err = store.ViewDefaults(ctx, "3")
	require.NoError(t, err)
	assert.Empty(t, vd.Tags)
	assert.Equal(t, domain.TypingNone, vd.Typing)
}

func TestSeed_ReplacesExistingData(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	small, err := ParseSeed([]byte(`
conversations:
  - id: "9"
    name: Nina Park
    status: waiting
    isAiHandling: true
`))
	require.NoError(t, err)
	require.NoError(t, store.Seed(ctx, small))

	convs, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Nina Park", convs[0].Name)

	_, err = store.Customer(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseSeed_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad status":       "conversations:\n  - {id: a, name: A, status: closed}\n",
		"duplicate id":     "conversations:\n  - {id: a, name: A, status: active}\n  - {id: a, name: B, status: active}\n",
		"status on user":   "conversations:\n  - id: a\n    name: A\n    status: active\n    messages:\n      - {id: '1', content: hi, sender: user, status: read}\n",
		"unknown tag":      "conversations:\n  - {id: a, name: A, status: active, tags: [gold]}\n",
		"unknown typing":   "conversations:\n  - {id: a, name: A, status: active, typing: staff}\n",
		"negative unread":  "conversations:\n  - {id: a, name: A, status: active, unread: -1}\n",
		"not yaml mapping": "conversations: 3\n",
	}
	for name, doc := range cases {
		_, err := ParseSeed([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversations:\n  - {id: x, name: X, status: active}\n"), 0o644))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)
	assert.Len(t, seed.Conversations, 1)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewSQLiteStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "desk.db")
	store, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	defer store.Close()

	version, err := GetSchemaVersion(store.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestDisplayTime(t *testing.T) {
	now := seedTime
	assert.Equal(t, "just now", DisplayTime(now.Add(-10*time.Second), now))
	assert.Equal(t, "59m ago", DisplayTime(now.Add(-59*time.Minute), now))
	assert.Equal(t, "3h ago", DisplayTime(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", DisplayTime(now.Add(-49*time.Hour), now))
	assert.Equal(t, "3w ago", DisplayTime(now.Add(-21*24*time.Hour), now))
}
