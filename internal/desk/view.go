package desk

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"supportdesk/internal/bus"
	"supportdesk/internal/domain"
	"supportdesk/internal/timeline"
)

var (
	// ErrNoSuggestion is returned by suggestion actions on a conversation
	// without an AI draft.
	ErrNoSuggestion = errors.New("no AI suggestion for this conversation")
	// ErrEmptySuggestion is returned when an edit would leave the draft blank.
	ErrEmptySuggestion = errors.New("suggestion cannot be empty")
)

// SuggestionState is the AI draft shown next to the timeline.
type SuggestionState struct {
	Content    string `json:"content"`
	Confidence int    `json:"confidence"`
	Generating bool   `json:"generating"`
	Sending    bool   `json:"sending"`
}

// ViewState is a copy of the agent controls of an open conversation.
type ViewState struct {
	ConversationID string            `json:"conversationId"`
	HasTakenOver   bool              `json:"hasTakenOver"`
	TakingOver     bool              `json:"takingOver"`
	Urgent         bool              `json:"urgent"`
	Tags           []domain.Tag      `json:"tags"`
	Status         domain.ViewStatus `json:"status"`
	Notes          string            `json:"notes"`
	Suggestion     *SuggestionState  `json:"suggestion,omitempty"`
}

// View is one conversation opened by the agent: its timeline plus the
// controls around it.
type View struct {
	id       string
	desk     *Desk
	timeline *timeline.Timeline
	logger   *slog.Logger
	unsub    func()

	mu         sync.Mutex
	takenOver  bool
	takingOver bool
	urgent     bool
	tags       []domain.Tag
	status     domain.ViewStatus
	notes      string
	suggestion *SuggestionState
	original   string
	pending    map[uint64]timeline.Timer
	nextTimer  uint64
	closed     bool
}

// ID returns the conversation id.
func (v *View) ID() string { return v.id }

// Timeline returns the message timeline of the view.
func (v *View) Timeline() *timeline.Timeline { return v.timeline }

// State returns a copy of the view controls.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

// Send appends a staff message and records the activity in the directory.
// Ignored sends return ok=false. Once appended the message stays accepted;
// a directory failure only leaves the conversation list stale and is logged.
func (v *View) Send(ctx context.Context, content string) (id string, ok bool) {
	id, ok = v.timeline.AppendStaffMessage(content)
	if !ok {
		return "", false
	}
	if err := v.desk.store.RecordActivity(ctx, v.id, strings.TrimSpace(content)); err != nil {
		v.logger.Error("activity not recorded", "message", id, "err", err)
		return id, true
	}
	v.desk.emit(bus.EventConversationUpdated, v.id, nil)
	return id, true
}

// ToggleTakeOver hands the conversation back to the AI immediately, or takes
// it over after the configured delay. Calls during a pending take-over are
// ignored.
func (v *View) ToggleTakeOver(ctx context.Context) (ViewState, error) {
	v.mu.Lock()
	if v.closed || v.takingOver {
		defer v.mu.Unlock()
		return v.stateLocked(), nil
	}
	if v.takenOver {
		v.mu.Unlock()
		if err := v.desk.store.SetAIHandling(ctx, v.id, true); err != nil {
			return v.State(), err
		}
		v.mu.Lock()
		v.takenOver = false
		st := v.stateLocked()
		v.mu.Unlock()

		v.logger.Info("returned to AI")
		v.publish(st)
		v.desk.emit(bus.EventConversationUpdated, v.id, nil)
		return st, nil
	}

	v.takingOver = true
	v.afterLocked(v.desk.takeOverDelay, v.completeTakeOver)
	st := v.stateLocked()
	v.mu.Unlock()

	v.publish(st)
	return st, nil
}

func (v *View) completeTakeOver() {
	if err := v.desk.store.SetAIHandling(context.Background(), v.id, false); err != nil {
		v.logger.Error("take over failed", "error", err)
		v.mu.Lock()
		v.takingOver = false
		st := v.stateLocked()
		v.mu.Unlock()
		v.publish(st)
		return
	}

	v.mu.Lock()
	v.takingOver = false
	v.takenOver = true
	st := v.stateLocked()
	v.mu.Unlock()

	v.logger.Info("chat taken over")
	v.publish(st)
	v.desk.emit(bus.EventConversationUpdated, v.id, nil)
}

// ToggleUrgent flips the urgent flag and keeps the urgent tag in step.
func (v *View) ToggleUrgent() ViewState {
	return v.update(func() bool {
		v.urgent = !v.urgent
		if v.urgent {
			if !slices.Contains(v.tags, domain.TagUrgent) {
				v.tags = append(v.tags, domain.TagUrgent)
			}
		} else {
			v.tags = slices.DeleteFunc(v.tags, func(t domain.Tag) bool { return t == domain.TagUrgent })
		}
		return true
	})
}

// AddTag attaches a known tag. Adding a tag twice changes nothing.
func (v *View) AddTag(name string) (ViewState, error) {
	tag, err := domain.ParseTag(name)
	if err != nil {
		return v.State(), err
	}
	return v.update(func() bool {
		if slices.Contains(v.tags, tag) {
			return false
		}
		v.tags = append(v.tags, tag)
		return true
	}), nil
}

// RemoveTag detaches a tag. Removing the urgent tag clears the urgent flag.
func (v *View) RemoveTag(name string) (ViewState, error) {
	tag, err := domain.ParseTag(name)
	if err != nil {
		return v.State(), err
	}
	return v.update(func() bool {
		i := slices.Index(v.tags, tag)
		if i < 0 {
			return false
		}
		v.tags = slices.Delete(v.tags, i, i+1)
		if tag == domain.TagUrgent {
			v.urgent = false
		}
		return true
	}), nil
}

// SetStatus changes the workflow state of the conversation.
func (v *View) SetStatus(name string) (ViewState, error) {
	status, err := domain.ParseViewStatus(name)
	if err != nil {
		return v.State(), err
	}
	return v.update(func() bool {
		if v.status == status {
			return false
		}
		v.status = status
		return true
	}), nil
}

// SetNotes replaces the internal agent notes.
func (v *View) SetNotes(notes string) ViewState {
	return v.update(func() bool {
		if v.notes == notes {
			return false
		}
		v.notes = notes
		return true
	})
}

// EditSuggestion replaces the AI draft with text.
func (v *View) EditSuggestion(text string) (ViewState, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return v.State(), ErrEmptySuggestion
	}
	var err error
	st := v.update(func() bool {
		if v.suggestion == nil {
			err = ErrNoSuggestion
			return false
		}
		if v.suggestion.Generating || v.suggestion.Sending || v.suggestion.Content == text {
			return false
		}
		v.suggestion.Content = text
		return true
	})
	return st, err
}

// RegenerateSuggestion asks for a fresh draft. The draft is marked as
// generating until the regenerate delay has passed.
func (v *View) RegenerateSuggestion() (ViewState, error) {
	var err error
	st := v.update(func() bool {
		if v.suggestion == nil {
			err = ErrNoSuggestion
			return false
		}
		if v.suggestion.Generating || v.suggestion.Sending {
			return false
		}
		v.suggestion.Generating = true
		v.afterLocked(v.desk.regenerateDelay, v.completeRegenerate)
		return true
	})
	return st, err
}

// RejectSuggestion discards the draft and regenerates it.
func (v *View) RejectSuggestion() (ViewState, error) {
	st, err := v.RegenerateSuggestion()
	if err == nil && st.Suggestion != nil && st.Suggestion.Generating {
		v.logger.Info("suggestion rejected")
	}
	return st, err
}

func (v *View) completeRegenerate() {
	v.update(func() bool {
		if v.suggestion == nil {
			return false
		}
		v.suggestion.Content = v.original
		v.suggestion.Generating = false
		return true
	})
	v.logger.Debug("suggestion regenerated")
}

// ApproveSuggestion sends the current draft as a staff message once the
// approve delay has passed.
func (v *View) ApproveSuggestion() (ViewState, error) {
	var err error
	st := v.update(func() bool {
		if v.suggestion == nil {
			err = ErrNoSuggestion
			return false
		}
		if v.suggestion.Generating || v.suggestion.Sending {
			return false
		}
		v.suggestion.Sending = true
		v.afterLocked(v.desk.approveDelay, v.completeApprove)
		return true
	})
	return st, err
}

func (v *View) completeApprove() {
	var content string
	v.update(func() bool {
		if v.suggestion == nil {
			return false
		}
		content = v.suggestion.Content
		v.suggestion.Sending = false
		return true
	})
	if content == "" {
		return
	}
	if _, ok := v.Send(context.Background(), content); ok {
		v.logger.Info("approved suggestion sent")
	}
}

// update applies fn under the view lock and publishes the new state when fn
// reports a change.
func (v *View) update(fn func() bool) ViewState {
	v.mu.Lock()
	if v.closed {
		defer v.mu.Unlock()
		return v.stateLocked()
	}
	changed := fn()
	st := v.stateLocked()
	v.mu.Unlock()

	if changed {
		v.publish(st)
	}
	return st
}

func (v *View) publish(st ViewState) {
	v.desk.emit(bus.EventViewChanged, v.id, st)
}

func (v *View) stateLocked() ViewState {
	st := ViewState{
		ConversationID: v.id,
		HasTakenOver:   v.takenOver,
		TakingOver:     v.takingOver,
		Urgent:         v.urgent,
		Tags:           slices.Clone(v.tags),
		Status:         v.status,
		Notes:          v.notes,
	}
	if st.Tags == nil {
		st.Tags = []domain.Tag{}
	}
	if v.suggestion != nil {
		s := *v.suggestion
		st.Suggestion = &s
	}
	return st
}

// afterLocked runs fn after d unless the view is closed first.
func (v *View) afterLocked(d time.Duration, fn func()) {
	v.nextTimer++
	key := v.nextTimer
	v.pending[key] = v.desk.sched.AfterFunc(d, func() {
		v.mu.Lock()
		_, live := v.pending[key]
		delete(v.pending, key)
		closed := v.closed
		v.mu.Unlock()
		if !live || closed {
			return
		}
		fn()
	})
}

func (v *View) close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	for key, t := range v.pending {
		t.Stop()
		delete(v.pending, key)
	}
	v.mu.Unlock()

	v.unsub()
	v.timeline.Close()
}
