// Package timeline holds the ordered messages and typing indicator of one open
// conversation, and simulates the delivery lifecycle of messages sent by staff.
package timeline

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
)

const (
	DefaultDeliverDelay = 500 * time.Millisecond
	DefaultTypingDelay  = 1000 * time.Millisecond
	DefaultStaffName    = "John Doe"
)

// Snapshot is a read-only copy of the timeline state.
type Snapshot struct {
	Messages []domain.Message `json:"messages"`
	Typing   domain.Typing    `json:"typing"`
	Sending  bool             `json:"sending"`
	Version  uint64           `json:"version"`
}

// Listener receives a snapshot after every state change.
type Listener func(Snapshot)

// Options configures a Timeline. Zero values fall back to defaults.
type Options struct {
	Scheduler    Scheduler
	Now          func() time.Time
	StaffName    string
	DeliverDelay time.Duration
	TypingDelay  time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	// Label identifies the timeline in logs, usually the conversation id.
	Label string
}

// Timeline is safe for concurrent use. Timer callbacks are applied under the
// same lock as caller mutations and are dropped once the epoch they were
// scheduled in has ended (Load or Close).
type Timeline struct {
	sched        Scheduler
	now          func() time.Time
	staffName    string
	deliverDelay time.Duration
	typingDelay  time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	messages  []domain.Message
	typing    domain.Typing
	sending   bool
	version   uint64
	epoch     uint64
	closed    bool
	pending   map[uint64]Timer
	nextTimer uint64
	listeners map[uint64]Listener
	nextSub   uint64

	// notifyMu orders listener calls. It is taken before mu, never after.
	notifyMu sync.Mutex
	notified uint64
}

// New creates an empty timeline.
func New(opts Options) *Timeline {
	if opts.Scheduler == nil {
		opts.Scheduler = WallScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StaffName == "" {
		opts.StaffName = DefaultStaffName
	}
	if opts.DeliverDelay <= 0 {
		opts.DeliverDelay = DefaultDeliverDelay
	}
	if opts.TypingDelay <= 0 {
		opts.TypingDelay = DefaultTypingDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Label != "" {
		opts.Logger = opts.Logger.With("conversation", opts.Label)
	}
	return &Timeline{
		sched:        opts.Scheduler,
		now:          opts.Now,
		staffName:    opts.StaffName,
		deliverDelay: opts.DeliverDelay,
		typingDelay:  opts.TypingDelay,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		typing:       domain.TypingNone,
		pending:      make(map[uint64]Timer),
		listeners:    make(map[uint64]Listener),
	}
}

// AppendStaffMessage appends a staff message and starts its delivery
// lifecycle. Empty content, a send already in flight, or a closed timeline
// make the call a no-op that returns ok=false.
func (t *Timeline) AppendStaffMessage(content string) (id string, ok bool) {
	content = strings.TrimSpace(content)

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		t.ignored("closed")
		return "", false
	case content == "":
		t.mu.Unlock()
		t.ignored("empty")
		return "", false
	case t.sending:
		t.mu.Unlock()
		t.ignored("in_flight")
		return "", false
	}

	id = strconv.Itoa(len(t.messages) + 1)
	t.messages = append(t.messages, domain.Message{
		ID:         id,
		Content:    content,
		Sender:     domain.SenderStaff,
		SenderName: t.staffName,
		Timestamp:  t.now().Format(domain.TimestampLayout),
		Status:     domain.StatusSent,
	})
	t.typing = domain.TypingNone
	t.sending = true
	epoch := t.epoch
	t.scheduleLocked(t.deliverDelay, func() { t.deliver(epoch, id) })
	snap := t.commitLocked()
	t.mu.Unlock()

	t.logger.Debug("staff message appended", "id", id)
	t.metrics.MessageSent()
	t.notify(snap)
	return id, true
}

func (t *Timeline) deliver(epoch uint64, id string) {
	t.mu.Lock()
	if t.closed || epoch != t.epoch {
		t.mu.Unlock()
		return
	}
	for i := range t.messages {
		if t.messages[i].ID == id && t.messages[i].Status.Before(domain.StatusDelivered) {
			t.messages[i].Status = domain.StatusDelivered
			break
		}
	}
	t.sending = false
	t.scheduleLocked(t.typingDelay, func() { t.replyTyping(epoch) })
	snap := t.commitLocked()
	t.mu.Unlock()

	t.logger.Debug("staff message delivered", "id", id)
	t.metrics.MessageDelivered()
	t.notify(snap)
}

func (t *Timeline) replyTyping(epoch uint64) {
	t.mu.Lock()
	if t.closed || epoch != t.epoch {
		t.mu.Unlock()
		return
	}
	t.typing = domain.TypingAI
	snap := t.commitLocked()
	t.mu.Unlock()

	t.metrics.TypingChanged(string(domain.TypingAI))
	t.notify(snap)
}

// SetTyping overwrites the typing indicator.
func (t *Timeline) SetTyping(who domain.Typing) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.typing = who
	snap := t.commitLocked()
	t.mu.Unlock()

	t.metrics.TypingChanged(string(who))
	t.notify(snap)
}

// ToggleTyping advances the indicator through none, user, ai and back to none.
func (t *Timeline) ToggleTyping() domain.Typing {
	t.mu.Lock()
	if t.closed {
		defer t.mu.Unlock()
		return t.typing
	}
	t.typing = t.typing.Next()
	who := t.typing
	snap := t.commitLocked()
	t.mu.Unlock()

	t.metrics.TypingChanged(string(who))
	t.notify(snap)
	return who
}

// Snapshot returns a copy of the current state.
func (t *Timeline) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Load replaces the history with messages and resets typing and the sending
// guard. Callbacks scheduled before the call are cancelled.
func (t *Timeline) Load(messages []domain.Message) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.cancelLocked()
	t.messages = slices.Clone(messages)
	t.typing = domain.TypingNone
	t.sending = false
	snap := t.commitLocked()
	t.mu.Unlock()

	t.logger.Debug("timeline loaded", "messages", len(messages))
	t.notify(snap)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. Listeners see strictly increasing versions; a snapshot
// overtaken by a newer one is skipped. Listeners must not mutate the
// timeline.
func (t *Timeline) Subscribe(fn Listener) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	t.nextSub++
	id := t.nextSub
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Close cancels pending callbacks and drops all listeners. Further mutations
// are ignored.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.cancelLocked()
	clear(t.listeners)
	t.logger.Debug("timeline closed")
}

// Closed reports whether Close has been called.
func (t *Timeline) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Timeline) scheduleLocked(d time.Duration, fn func()) {
	t.nextTimer++
	key := t.nextTimer
	t.pending[key] = t.sched.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
		fn()
	})
}

func (t *Timeline) cancelLocked() {
	for key, timer := range t.pending {
		timer.Stop()
		delete(t.pending, key)
	}
	t.epoch++
}

func (t *Timeline) commitLocked() Snapshot {
	t.version++
	return t.snapshotLocked()
}

func (t *Timeline) snapshotLocked() Snapshot {
	msgs := slices.Clone(t.messages)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return Snapshot{
		Messages: msgs,
		Typing:   t.typing,
		Sending:  t.sending,
		Version:  t.version,
	}
}

func (t *Timeline) notify(snap Snapshot) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if snap.Version <= t.notified {
		return
	}
	t.notified = snap.Version

	t.mu.Lock()
	fns := make([]Listener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("timeline listener panic", "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}

func (t *Timeline) ignored(reason string) {
	t.logger.Debug("staff message ignored", "reason", reason)
	t.metrics.SendIgnored(reason)
}
