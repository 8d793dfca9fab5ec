// Package desk manages the conversations an agent has open: one timeline per
// conversation plus the take-over, tag, status, notes and suggestion controls
// around it. Every change is published on the event bus.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"supportdesk/internal/bus"
	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
	"supportdesk/internal/timeline"
)

const (
	DefaultTakeOverDelay   = 500 * time.Millisecond
	DefaultRegenerateDelay = 2 * time.Second
	DefaultApproveDelay    = 1 * time.Second
)

// ErrClosed is returned by Open after CloseAll.
var ErrClosed = errors.New("desk is closed")

// Options configures a Desk. Zero values fall back to defaults; a negative
// TakeOverDelay completes a take-over on the next scheduler tick.
type Options struct {
	Store           domain.ConversationStore
	Bus             *bus.EventBus
	Scheduler       timeline.Scheduler
	Now             func() time.Time
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	StaffName       string
	DeliverDelay    time.Duration
	TypingDelay     time.Duration
	TakeOverDelay   time.Duration
	RegenerateDelay time.Duration
	ApproveDelay    time.Duration
}

// Desk is the registry of open conversation views.
type Desk struct {
	store           domain.ConversationStore
	bus             *bus.EventBus
	sched           timeline.Scheduler
	now             func() time.Time
	logger          *slog.Logger
	metrics         *metrics.Metrics
	staffName       string
	deliverDelay    time.Duration
	typingDelay     time.Duration
	takeOverDelay   time.Duration
	regenerateDelay time.Duration
	approveDelay    time.Duration

	mu     sync.RWMutex
	views  map[string]*View
	closed bool
}

// New creates a desk over the given store.
func New(opts Options) *Desk {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewEventBus(opts.Logger)
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timeline.WallScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	switch {
	case opts.TakeOverDelay < 0:
		opts.TakeOverDelay = 0
	case opts.TakeOverDelay == 0:
		opts.TakeOverDelay = DefaultTakeOverDelay
	}
	if opts.RegenerateDelay <= 0 {
		opts.RegenerateDelay = DefaultRegenerateDelay
	}
	if opts.ApproveDelay <= 0 {
		opts.ApproveDelay = DefaultApproveDelay
	}
	return &Desk{
		store:           opts.Store,
		bus:             opts.Bus,
		sched:           opts.Scheduler,
		now:             opts.Now,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		staffName:       opts.StaffName,
		deliverDelay:    opts.DeliverDelay,
		typingDelay:     opts.TypingDelay,
		takeOverDelay:   opts.TakeOverDelay,
		regenerateDelay: opts.RegenerateDelay,
		approveDelay:    opts.ApproveDelay,
		views:           make(map[string]*View),
	}
}

// Bus returns the event bus the desk publishes on.
func (d *Desk) Bus() *bus.EventBus { return d.bus }

// Open returns the view of conversation id, loading it from the store the
// first time. The timeline starts from the stored history with no send in
// flight.
func (d *Desk) Open(ctx context.Context, id string) (*View, error) {
	d.mu.RLock()
	v, ok := d.views[id]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return v, nil
	}

	v, err := d.load(ctx, id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		v.close()
		return nil, ErrClosed
	}
	if existing, ok := d.views[id]; ok {
		d.mu.Unlock()
		v.close()
		return existing, nil
	}
	d.views[id] = v
	d.mu.Unlock()

	d.metrics.ViewOpened()
	v.logger.Info("conversation opened")
	d.emit(bus.EventViewOpened, id, v.State())
	return v, nil
}

func (d *Desk) load(ctx context.Context, id string) (*View, error) {
	summary, err := d.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open conversation %s: %w", id, err)
	}
	messages, err := d.store.Messages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", id, err)
	}
	defaults, err := d.store.ViewDefaults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load view defaults of %s: %w", id, err)
	}

	var notes string
	customer, err := d.store.Customer(ctx, id)
	switch {
	case err == nil:
		notes = customer.Notes
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load customer of %s: %w", id, err)
	}

	var suggestion *SuggestionState
	var original string
	sg, err := d.store.Suggestion(ctx, id)
	switch {
	case err == nil:
		suggestion = &SuggestionState{Content: sg.Content, Confidence: sg.Confidence}
		original = sg.Content
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load suggestion of %s: %w", id, err)
	}

	logger := d.logger.With("conversation", id)
	tl := timeline.New(timeline.Options{
		Scheduler:    d.sched,
		Now:          d.now,
		StaffName:    d.staffName,
		DeliverDelay: d.deliverDelay,
		TypingDelay:  d.typingDelay,
		Logger:       d.logger,
		Metrics:      d.metrics,
		Label:        id,
	})
	tl.Load(messages)
	if defaults.Typing != domain.TypingNone {
		tl.SetTyping(defaults.Typing)
	}

	v := &View{
		id:         id,
		desk:       d,
		timeline:   tl,
		logger:     logger,
		takenOver:  !summary.IsAIHandling,
		urgent:     slices.Contains(defaults.Tags, domain.TagUrgent),
		tags:       slices.Clone(defaults.Tags),
		status:     initialViewStatus(summary.Status),
		notes:      notes,
		suggestion: suggestion,
		original:   original,
		pending:    make(map[uint64]timeline.Timer),
	}
	v.unsub = tl.Subscribe(func(s timeline.Snapshot) {
		d.emit(bus.EventTimelineChanged, id, s)
	})
	return v, nil
}

// initialViewStatus maps the list status onto the workflow status. Urgency is
// tracked by the urgent flag, so an urgent conversation starts active.
func initialViewStatus(s domain.ConversationStatus) domain.ViewStatus {
	switch s {
	case domain.ConversationWaiting:
		return domain.ViewWaiting
	case domain.ConversationEscalated:
		return domain.ViewEscalated
	default:
		return domain.ViewActive
	}
}

// Get returns an already open view.
func (d *Desk) Get(id string) (*View, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.views[id]
	return v, ok
}

// Views returns the ids of open conversations in ascending order.
func (d *Desk) Views() []string {
	d.mu.RLock()
	ids := make([]string, 0, len(d.views))
	for id := range d.views {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close tears down the view of conversation id. Pending deliveries, typing
// replies and control timers are cancelled. It reports whether a view was open.
func (d *Desk) Close(id string) bool {
	d.mu.Lock()
	v, ok := d.views[id]
	delete(d.views, id)
	d.mu.Unlock()
	if !ok {
		return false
	}

	v.close()
	d.metrics.ViewClosed()
	v.logger.Info("conversation closed")
	d.emit(bus.EventViewClosed, id, nil)
	return true
}

// CloseAll closes every view and rejects further opens.
func (d *Desk) CloseAll() {
	d.mu.Lock()
	d.closed = true
	ids := make([]string, 0, len(d.views))
	for id := range d.views {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.Close(id)
	}
}

func (d *Desk) emit(eventType, id string, payload any) {
	d.bus.Emit(bus.Event{
		Type:           eventType,
		Source:         "desk",
		ConversationID: id,
		Payload:        payload,
	})
}
