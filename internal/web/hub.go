package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"supportdesk/internal/bus"
	"supportdesk/internal/desk"
	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
	"supportdesk/internal/timeline"
)

const (
	writeWait    = 10 * time.Second
	sendBuffer   = 64
	maxFrameSize = 64 << 10
)

// Frame is the JSON protocol of the websocket stream.
//
// Server frames: "status", "snapshot", "view", "conversation", "closed", "error".
// Client frames: "message", "typing", "toggle_typing".
//
// Event frames carry the bus sequence number; a client reconnecting with
// ?since=<seq> is sent the frames it missed instead of a fresh snapshot.
type Frame struct {
	Type           string             `json:"type"`
	Seq            uint64             `json:"seq,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Content        string             `json:"content,omitempty"`
	Who            string             `json:"who,omitempty"`
	Accepted       *bool              `json:"accepted,omitempty"`
	Snapshot       *timeline.Snapshot `json:"snapshot,omitempty"`
	View           *desk.ViewState    `json:"view,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard runs on another origin during development
	},
}

// Hub fans desk events out to websocket clients and applies their commands.
type Hub struct {
	desk    *desk.Desk
	metrics *metrics.Metrics
	logger  *slog.Logger

	sub string // bus subscription, removed by CloseAll

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient tracks a connected websocket client.
type wsClient struct {
	id             string
	conn           *websocket.Conn
	conversationID string
	out            chan []byte
	// replayedUpTo is written once, under h.mu, at registration. Live
	// events at or below it were already sent by the catch-up replay.
	replayedUpTo uint64
}

// NewHub creates a hub and subscribes it to the desk event bus.
func NewHub(d *desk.Desk, m *metrics.Metrics, logger *slog.Logger) *Hub {
	h := &Hub{
		desk:    d,
		metrics: m,
		logger:  logger,
		clients: make(map[string]*wsClient),
	}
	if d != nil {
		h.sub = d.Bus().On("*", h.dispatch)
	}
	return h
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dispatch(e bus.Event) {
	f, ok := frameFor(e)
	if !ok {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("websocket frame encode failed", "type", f.Type, "err", err)
		return
	}

	// conversation.updated is a list-level change: every client refreshes
	// its sidebar.
	target := e.ConversationID
	if e.Type == bus.EventConversationUpdated {
		target = ""
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if e.Seq <= c.replayedUpTo {
			continue
		}
		if target == "" || c.conversationID == target {
			h.enqueue(c, data)
		}
	}
}

// frameFor maps a bus event to its websocket frame.
func frameFor(e bus.Event) (Frame, bool) {
	f := Frame{Seq: e.Seq, ConversationID: e.ConversationID}
	switch e.Type {
	case bus.EventTimelineChanged:
		snap, ok := e.Payload.(timeline.Snapshot)
		if !ok {
			return Frame{}, false
		}
		f.Type, f.Snapshot = "snapshot", &snap
	case bus.EventViewOpened, bus.EventViewChanged:
		st, ok := e.Payload.(desk.ViewState)
		if !ok {
			return Frame{}, false
		}
		f.Type, f.View = "view", &st
	case bus.EventViewClosed:
		f.Type = "closed"
	case bus.EventConversationUpdated:
		f.Type = "conversation"
	default:
		return Frame{}, false
	}
	return f, true
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *wsClient, data []byte) {
	select {
	case c.out <- data:
	default:
		h.logger.Warn("websocket client too slow, frame dropped", "client_id", c.id)
	}
}

func (h *Hub) send(c *wsClient, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueue(c, data)
	}
}

// ServeHTTP upgrades the request. With a conversation_id query parameter
// the client is attached to that conversation and receives its timeline.
// Adding since=<seq> replays the conversation's events after seq when the
// bus still holds them.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")

	var since uint64
	resume := false
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an event sequence number")
			return
		}
		since, resume = n, conversationID != ""
	}

	var view *desk.View
	if conversationID != "" {
		v, err := h.desk.Open(r.Context(), conversationID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
		view = v
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c := &wsClient{
		id:             uuid.NewString(),
		conn:           conn,
		conversationID: conversationID,
		out:            make(chan []byte, sendBuffer),
	}
	caughtUp := h.register(c, since, resume)
	h.metrics.WSConnected()
	h.logger.Info("websocket client connected", "client_id", c.id, "conversation", conversationID, "caught_up", caughtUp)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c)
	}()

	if view != nil && !caughtUp {
		snap := view.Timeline().Snapshot()
		st := view.State()
		h.send(c, Frame{Type: "snapshot", ConversationID: conversationID, Snapshot: &snap})
		h.send(c, Frame{Type: "view", ConversationID: conversationID, View: &st})
	}

	defer func() {
		h.remove(c)
		<-done
		conn.Close()
		h.metrics.WSDisconnected()
		h.logger.Info("websocket client disconnected", "client_id", c.id)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			h.logger.Warn("invalid websocket message", "err", err)
			h.send(c, Frame{Type: "error", Content: "invalid frame"})
			continue
		}
		h.handleFrame(c, f)
	}
}

func (h *Hub) handleFrame(c *wsClient, f Frame) {
	if c.conversationID == "" {
		h.send(c, Frame{Type: "error", Content: "no conversation attached"})
		return
	}
	view, err := h.desk.Open(context.Background(), c.conversationID)
	if err != nil {
		h.send(c, Frame{Type: "error", ConversationID: c.conversationID, Content: err.Error()})
		return
	}

	switch f.Type {
	case "message":
		_, ok := view.Send(context.Background(), f.Content)
		h.send(c, Frame{Type: "status", ConversationID: c.conversationID, Content: "message", Accepted: &ok})
	case "typing":
		who, err := domain.ParseTyping(f.Who)
		if err != nil {
			h.send(c, Frame{Type: "error", ConversationID: c.conversationID, Content: err.Error()})
			return
		}
		view.Timeline().SetTyping(who)
	case "toggle_typing":
		view.Timeline().ToggleTyping()
	default:
		h.send(c, Frame{Type: "error", ConversationID: c.conversationID, Content: "unknown frame type " + f.Type})
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	for data := range c.out {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", "client_id", c.id, "err", err)
			// Closing the conn ends the read loop, which closes c.out.
			c.conn.Close()
			for range c.out {
			}
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// register adds c to the hub and queues its status frame. When resume is
// set and the bus still holds every event after since, the missed events of
// c's conversation are queued too and register reports true. Replay and
// registration share h.mu so no live event falls between them.
func (h *Hub) register(c *wsClient, since uint64, resume bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		missed []bus.Event
		last   uint64
		ok     bool
	)
	if h.desk != nil {
		last = h.desk.Bus().LastSeq()
		if resume {
			missed, last, ok = h.desk.Bus().Replay(c.conversationID, since)
			// A backlog that would overflow the send buffer is replaced by
			// a fresh snapshot.
			ok = ok && len(missed) < sendBuffer
		}
	}
	h.clients[c.id] = c

	frames := []Frame{{Type: "status", Seq: last, Content: "connected", ConversationID: c.conversationID}}
	if ok {
		c.replayedUpTo = last
		for _, e := range missed {
			if f, mapped := frameFor(e); mapped {
				frames = append(frames, f)
			}
		}
	}
	for _, f := range frames {
		data, err := json.Marshal(f)
		if err != nil {
			h.logger.Error("websocket frame encode failed", "type", f.Type, "err", err)
			continue
		}
		h.enqueue(c, data)
	}
	return ok
}

// remove detaches c and stops its writer.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.out)
	}
}

// CloseAll detaches the hub from the bus and disconnects every client.
func (h *Hub) CloseAll() {
	if h.desk != nil {
		h.desk.Bus().Off(h.sub)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.out)
		c.conn.Close()
	}
}
