package web

import (
	"errors"
	"net/http"
	"strings"

	"supportdesk/internal/auth"
	"supportdesk/internal/desk"
	"supportdesk/internal/domain"
	"supportdesk/internal/filter"
	"supportdesk/internal/timeline"
)

// conversationDetail is the body of GET /api/conversations/{id}.
type conversationDetail struct {
	Conversation *domain.ConversationSummary `json:"conversation"`
	Customer     *domain.Customer            `json:"customer,omitempty"`
	Suggestion   *domain.Suggestion          `json:"suggestion,omitempty"`
}

// timelineResponse pairs the timeline of an open view with its controls.
type timelineResponse struct {
	timeline.Snapshot
	View desk.ViewState `json:"view"`
}

type sendResponse struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

func (s *Server) handleLogin(rw http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(rw, http.StatusServiceUnavailable, "login is not configured")
		return
	}
	var form auth.LoginForm
	if err := decodeBody(r, &form); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), clientKey(r), form)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, session)
}

func (s *Server) handleListConversations(rw http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.writeErr(rw, err)
		return
	}

	raw := r.URL.Query().Get("filter")
	key, err := filter.ParseKey(raw)
	if err != nil {
		// Unknown keys are applied as-is and match nothing.
		key = filter.Key(strings.ToLower(raw))
	}
	writeJSON(rw, http.StatusOK, filter.Apply(convs, r.URL.Query().Get("q"), key))
}

func (s *Server) handleGetConversation(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	detail := conversationDetail{Conversation: conv}
	if detail.Customer, err = s.store.Customer(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeErr(rw, err)
		return
	}
	if detail.Suggestion, err = s.store.Suggestion(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, detail)
}

// openView opens the conversation named by the {id} path value, writing the
// error response itself on failure.
func (s *Server) openView(rw http.ResponseWriter, r *http.Request) (*desk.View, bool) {
	v, err := s.desk.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(rw, err)
		return nil, false
	}
	return v, true
}

func (s *Server) handleTimeline(rw http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	writeJSON(rw, http.StatusOK, timelineResponse{Snapshot: v.Timeline().Snapshot(), View: v.State()})
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	id, accepted := v.Send(r.Context(), body.Content)
	writeJSON(rw, http.StatusOK, sendResponse{Accepted: accepted, ID: id})
}

func (s *Server) handleSetTyping(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Who string `json:"who"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	who, err := domain.ParseTyping(body.Who)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	v.Timeline().SetTyping(who)
	writeJSON(rw, http.StatusOK, v.Timeline().Snapshot())
}

func (s *Server) handleToggleTyping(rw http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	v.Timeline().ToggleTyping()
	writeJSON(rw, http.StatusOK, v.Timeline().Snapshot())
}

func (s *Server) handleTakeOver(rw http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	st, err := v.ToggleTakeOver(r.Context())
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleUrgent(rw http.ResponseWriter, r *http.Request) {
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	writeJSON(rw, http.StatusOK, v.ToggleUrgent())
}

func (s *Server) handleAddTag(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Tag string `json:"tag"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	s.viewUpdate(rw, r, func(v *desk.View) (desk.ViewState, error) { return v.AddTag(body.Tag) })
}

func (s *Server) handleRemoveTag(rw http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	s.viewUpdate(rw, r, func(v *desk.View) (desk.ViewState, error) { return v.RemoveTag(tag) })
}

func (s *Server) handleSetStatus(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	s.viewUpdate(rw, r, func(v *desk.View) (desk.ViewState, error) { return v.SetStatus(body.Status) })
}

func (s *Server) handleSetNotes(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	s.viewUpdate(rw, r, func(v *desk.View) (desk.ViewState, error) { return v.SetNotes(body.Notes), nil })
}

func (s *Server) handleEditSuggestion(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	s.viewUpdate(rw, r, func(v *desk.View) (desk.ViewState, error) { return v.EditSuggestion(body.Content) })
}

func (s *Server) handleSuggestionAction(rw http.ResponseWriter, r *http.Request) {
	var action func(*desk.View) (desk.ViewState, error)
	switch r.PathValue("action") {
	case "regenerate":
		action = (*desk.View).RegenerateSuggestion
	case "reject":
		action = (*desk.View).RejectSuggestion
	case "approve":
		action = (*desk.View).ApproveSuggestion
	default:
		writeError(rw, http.StatusNotFound, "unknown suggestion action")
		return
	}
	s.viewUpdate(rw, r, action)
}

func (s *Server) viewUpdate(rw http.ResponseWriter, r *http.Request, fn func(*desk.View) (desk.ViewState, error)) {
	v, ok := s.openView(rw, r)
	if !ok {
		return
	}
	st, err := fn(v)
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleCloseView(rw http.ResponseWriter, r *http.Request) {
	closed := s.desk.Close(r.PathValue("id"))
	writeJSON(rw, http.StatusOK, map[string]bool{"closed": closed})
}
