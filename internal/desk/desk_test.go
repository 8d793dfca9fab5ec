package desk

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdesk/internal/bus"
	"supportdesk/internal/directory"
	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
	"supportdesk/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var deskTime = time.Date(2024, 12, 1, 14, 5, 0, 0, time.UTC)

type fixture struct {
	desk    *Desk
	store   *directory.SQLiteStore
	sched   *timeline.ManualScheduler
	metrics *metrics.Metrics

	mu     sync.Mutex
	events []bus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := directory.NewSQLiteStore("", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetClock(func() time.Time { return deskTime })

	seed, err := directory.DefaultSeed()
	require.NoError(t, err)
	require.NoError(t, store.Seed(context.Background(), seed))

	f := &fixture{
		store:   store,
		sched:   timeline.NewManualScheduler(),
		metrics: metrics.New(),
	}
	eb := bus.NewEventBus(testLogger())
	eb.On("*", func(e bus.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})
	f.desk = New(Options{
		Store:     store,
		Bus:       eb,
		Scheduler: f.sched,
		Now:       func() time.Time { return deskTime },
		Logger:    testLogger(),
		Metrics:   f.metrics,
	})
	t.Cleanup(f.desk.CloseAll)
	return f
}

func (f *fixture) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (f *fixture) open(t *testing.T, id string) *View {
	t.Helper()
	v, err := f.desk.Open(context.Background(), id)
	require.NoError(t, err)
	return v
}

func TestOpen_LoadsConversation(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")

	snap := v.Timeline().Snapshot()
	assert.Len(t, snap.Messages, 8)
	assert.Equal(t, domain.TypingUser, snap.Typing)
	assert.False(t, snap.Sending)

	st := v.State()
	assert.Equal(t, "1", st.ConversationID)
	assert.True(t, st.HasTakenOver)
	assert.False(t, st.Urgent)
	assert.Equal(t, []domain.Tag{domain.TagVIP}, st.Tags)
	assert.Equal(t, domain.ViewActive, st.Status)
	assert.Contains(t, st.Notes, "Prefers high floors")
	require.NotNil(t, st.Suggestion)
	assert.Equal(t, 94, st.Suggestion.Confidence)

	assert.Equal(t, 1, f.count(bus.EventViewOpened))
	assert.Equal(t, []string{"1"}, f.desk.Views())
}

func TestOpen_UrgentTagSetsFlag(t *testing.T) {
	f := newFixture(t)
	st := f.open(t, "5").State()
	assert.True(t, st.Urgent)
	assert.Equal(t, []domain.Tag{domain.TagUrgent}, st.Tags)
	assert.Nil(t, st.Suggestion)
}

func TestOpen_ReturnsExistingView(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "1")
	b := f.open(t, "1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, f.count(bus.EventViewOpened))
}

func TestOpen_UnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.desk.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSend_RecordsActivityAndRunsLifecycle(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")
	ctx := context.Background()

	id, ok := v.Send(ctx, "  Your upgrade is confirmed.  ")
	require.True(t, ok)
	assert.Equal(t, "9", id)

	conv, err := f.store.GetConversation(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Your upgrade is confirmed.", conv.LastMessage)
	assert.Equal(t, "just now", conv.Time)
	assert.Equal(t, 1, f.count(bus.EventConversationUpdated))

	_, ok = v.Send(ctx, "second")
	assert.False(t, ok)

	f.sched.Advance(500 * time.Millisecond)
	snap := v.Timeline().Snapshot()
	assert.Equal(t, domain.StatusDelivered, snap.Messages[8].Status)

	f.sched.Advance(time.Second)
	assert.Equal(t, domain.TypingAI, v.Timeline().Snapshot().Typing)
	assert.Equal(t, 3, f.count(bus.EventTimelineChanged))
}

// failingActivityStore rejects every RecordActivity call.
type failingActivityStore struct {
	domain.ConversationStore
}

func (failingActivityStore) RecordActivity(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestSend_AcceptedWhenActivityNotRecorded(t *testing.T) {
	f := newFixture(t)
	d := New(Options{
		Store:     failingActivityStore{f.store},
		Bus:       f.desk.Bus(),
		Scheduler: f.sched,
		Logger:    testLogger(),
	})
	t.Cleanup(d.CloseAll)
	v, err := d.Open(context.Background(), "1")
	require.NoError(t, err)

	id, ok := v.Send(context.Background(), "On it")
	assert.True(t, ok)
	assert.Equal(t, "9", id)
	assert.Len(t, v.Timeline().Snapshot().Messages, 9)
	assert.Zero(t, f.count(bus.EventConversationUpdated), "list is not refreshed for an unrecorded activity")
}

func TestSend_EmptyIsIgnored(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")

	_, ok := v.Send(context.Background(), "   ")
	assert.False(t, ok)
	assert.Len(t, v.Timeline().Snapshot().Messages, 8)
	assert.Zero(t, f.count(bus.EventConversationUpdated))
}

func TestToggleTakeOver(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "3")
	ctx := context.Background()
	require.False(t, v.State().HasTakenOver)

	st, err := v.ToggleTakeOver(ctx)
	require.NoError(t, err)
	assert.True(t, st.TakingOver)
	assert.False(t, st.HasTakenOver)

	st, err = v.ToggleTakeOver(ctx)
	require.NoError(t, err)
	assert.True(t, st.TakingOver, "toggle during take-over is ignored")

	f.sched.Advance(499 * time.Millisecond)
	assert.True(t, v.State().TakingOver)

	f.sched.Advance(time.Millisecond)
	st = v.State()
	assert.False(t, st.TakingOver)
	assert.True(t, st.HasTakenOver)
	conv, err := f.store.GetConversation(ctx, "3")
	require.NoError(t, err)
	assert.False(t, conv.IsAIHandling)

	st, err = v.ToggleTakeOver(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasTakenOver)
	conv, err = f.store.GetConversation(ctx, "3")
	require.NoError(t, err)
	assert.True(t, conv.IsAIHandling)
}

func TestToggleTakeOver_NegativeDelayIsImmediate(t *testing.T) {
	f := newFixture(t)
	d := New(Options{
		Store:         f.store,
		Scheduler:     f.sched,
		Logger:        testLogger(),
		TakeOverDelay: -1,
	})
	t.Cleanup(d.CloseAll)
	v, err := d.Open(context.Background(), "3")
	require.NoError(t, err)

	st, err := v.ToggleTakeOver(context.Background())
	require.NoError(t, err)
	require.True(t, st.TakingOver)

	f.sched.Advance(0)
	assert.True(t, v.State().HasTakenOver)
}

func TestClose_CancelsPendingTakeOver(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "3")
	ctx := context.Background()

	_, err := v.ToggleTakeOver(ctx)
	require.NoError(t, err)
	f.sched.Advance(200 * time.Millisecond)

	assert.True(t, f.desk.Close("3"))
	f.sched.Advance(time.Second)

	conv, err := f.store.GetConversation(ctx, "3")
	require.NoError(t, err)
	assert.True(t, conv.IsAIHandling)
	assert.Zero(t, f.sched.Pending())
}

func TestClose_SuppressesDelivery(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")

	_, ok := v.Send(context.Background(), "Checking now")
	require.True(t, ok)

	f.sched.Advance(250 * time.Millisecond)
	assert.True(t, f.desk.Close("1"))
	before := f.count(bus.EventTimelineChanged)
	f.sched.Advance(2 * time.Second)

	assert.Equal(t, before, f.count(bus.EventTimelineChanged))
	assert.Equal(t, domain.StatusSent, v.Timeline().Snapshot().Messages[8].Status)
	assert.Equal(t, 1, f.count(bus.EventViewClosed))

	_, open := f.desk.Get("1")
	assert.False(t, open)
	assert.False(t, f.desk.Close("1"))
}

func TestReopen_StartsFresh(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")
	v.Send(context.Background(), "first")
	f.desk.Close("1")

	again := f.open(t, "1")
	assert.NotSame(t, v, again)
	snap := again.Timeline().Snapshot()
	assert.Len(t, snap.Messages, 8)
	assert.False(t, snap.Sending)
}

func TestUrgentAndTags(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")

	st := v.ToggleUrgent()
	assert.True(t, st.Urgent)
	assert.Equal(t, []domain.Tag{domain.TagVIP, domain.TagUrgent}, st.Tags)

	st, err := v.RemoveTag("urgent")
	require.NoError(t, err)
	assert.False(t, st.Urgent)
	assert.Equal(t, []domain.Tag{domain.TagVIP}, st.Tags)

	changes := f.count(bus.EventViewChanged)
	st, err = v.AddTag("vip")
	require.NoError(t, err)
	assert.Equal(t, []domain.Tag{domain.TagVIP}, st.Tags)
	assert.Equal(t, changes, f.count(bus.EventViewChanged), "duplicate tag publishes nothing")

	st, err = v.AddTag("follow-up")
	require.NoError(t, err)
	assert.Equal(t, []domain.Tag{domain.TagVIP, domain.TagFollowUp}, st.Tags)

	_, err = v.AddTag("gold")
	assert.ErrorIs(t, err, domain.ErrUnknownTag)
	_, err = v.RemoveTag("gold")
	assert.ErrorIs(t, err, domain.ErrUnknownTag)

	v.ToggleUrgent()
	st = v.ToggleUrgent()
	assert.False(t, st.Urgent)
	assert.NotContains(t, st.Tags, domain.TagUrgent)
}

func TestStatusAndNotes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, domain.ViewEscalated, f.open(t, "2").State().Status)
	v := f.open(t, "4")
	assert.Equal(t, domain.ViewWaiting, v.State().Status)

	st, err := v.SetStatus("resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.ViewResolved, st.Status)

	_, err = v.SetStatus("archived")
	assert.Error(t, err)

	st = v.SetNotes("Call back after 5pm")
	assert.Equal(t, "Call back after 5pm", st.Notes)
}

func TestSuggestionWorkflow(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "1")
	original := v.State().Suggestion.Content

	st, err := v.EditSuggestion("Happy to help with the suite upgrade.")
	require.NoError(t, err)
	assert.Equal(t, "Happy to help with the suite upgrade.", st.Suggestion.Content)

	st, err = v.RejectSuggestion()
	require.NoError(t, err)
	assert.True(t, st.Suggestion.Generating)

	st, err = v.EditSuggestion("ignored while generating")
	require.NoError(t, err)
	assert.Equal(t, "Happy to help with the suite upgrade.", st.Suggestion.Content)

	f.sched.Advance(2 * time.Second)
	st = v.State()
	assert.False(t, st.Suggestion.Generating)
	assert.Equal(t, original, st.Suggestion.Content)

	_, err = v.EditSuggestion("   ")
	assert.ErrorIs(t, err, ErrEmptySuggestion)

	st, err = v.ApproveSuggestion()
	require.NoError(t, err)
	assert.True(t, st.Suggestion.Sending)
	assert.Len(t, v.Timeline().Snapshot().Messages, 8)

	f.sched.Advance(time.Second)
	snap := v.Timeline().Snapshot()
	require.Len(t, snap.Messages, 9)
	assert.Equal(t, original, snap.Messages[8].Content)
	assert.Equal(t, domain.SenderStaff, snap.Messages[8].Sender)
	assert.False(t, v.State().Suggestion.Sending)

	f.sched.Advance(500 * time.Millisecond)
	assert.Equal(t, domain.StatusDelivered, v.Timeline().Snapshot().Messages[8].Status)
}

func TestSuggestion_Missing(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "2")

	_, err := v.RegenerateSuggestion()
	assert.ErrorIs(t, err, ErrNoSuggestion)
	_, err = v.ApproveSuggestion()
	assert.ErrorIs(t, err, ErrNoSuggestion)
	_, err = v.EditSuggestion("hello")
	assert.ErrorIs(t, err, ErrNoSuggestion)
}

func TestCloseAll_RejectsOpen(t *testing.T) {
	f := newFixture(t)
	f.open(t, "1")
	f.open(t, "2")

	f.desk.CloseAll()
	assert.Empty(t, f.desk.Views())
	assert.Equal(t, 2, f.count(bus.EventViewClosed))

	_, err := f.desk.Open(context.Background(), "3")
	assert.ErrorIs(t, err, ErrClosed)
}
