package console

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"helpdesk/internal/content"
	"helpdesk/internal/models"
	"helpdesk/internal/protocol"
)

// Registry holds every session observed during the process lifetime, keyed by room.
// It is not safe for concurrent use; Console serialises access.
type Registry struct {
	sessions map[string]*models.Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

// ApplySnapshot replaces the registry with the escalated sessions sent at connect time.
// An empty snapshot keeps what is already known.
func (r *Registry) ApplySnapshot(sessions []models.Session) {
	if len(sessions) == 0 {
		return
	}
	next := make(map[string]*models.Session, len(sessions))
	for _, s := range sessions {
		s.Unread = 0
		s.AgentMode = true
		next[s.RoomID] = &s
	}
	r.sessions = next
}

// ApplyConnectionRequest escalates the user's session, creating it when unknown.
func (r *Registry) ApplyConnectionRequest(ev protocol.ConnectionRequest) (created bool) {
	if s := r.findByUser(ev.UserID); s != nil {
		s.AgentMode = true
		s.Unread++
		return false
	}
	r.sessions[ev.RoomID] = &models.Session{
		UserID:      ev.UserID,
		UserName:    ev.UserName,
		RoomID:      ev.RoomID,
		LastMessage: models.ConnectionRequestPreview,
		Timestamp:   r.now(),
		Unread:      1,
		AgentMode:   true,
	}
	return true
}

// ApplyInboundMessage records a user message. Unread only grows for sessions not on screen.
func (r *Registry) ApplyInboundMessage(ev protocol.UserMessage, isSelected bool) (created bool) {
	s, ok := r.sessions[ev.RoomID]
	if !ok {
		s = &models.Session{
			UserID:    ev.UserID,
			UserName:  ev.Message.UserName,
			RoomID:    ev.RoomID,
			AgentMode: true,
		}
		r.sessions[ev.RoomID] = s
		created = true
	}
	s.LastMessage = content.Preview(ev.Message.Message, ev.Message.Attachments)
	s.Timestamp = ev.Message.Timestamp
	if !isSelected {
		s.Unread++
	}
	return created
}

// ApplyAssistantMessage updates the preview unless a human agent owns the session.
func (r *Registry) ApplyAssistantMessage(ev protocol.AssistantMessage) bool {
	s, ok := r.sessions[ev.RoomID]
	if !ok || s.AgentMode {
		return false
	}
	s.LastMessage = content.Preview(ev.Message.Message, ev.Message.Attachments)
	s.Timestamp = ev.Message.Timestamp
	return true
}

// ApplyAgentMessage refreshes the preview for a message written by an agent.
func (r *Registry) ApplyAgentMessage(roomID string, msg models.Message) bool {
	s, ok := r.sessions[roomID]
	if !ok {
		return false
	}
	s.LastMessage = content.Preview(msg.Message, msg.Attachments)
	s.Timestamp = msg.Timestamp
	return true
}

func (r *Registry) MarkRead(roomID string) {
	if s, ok := r.sessions[roomID]; ok {
		s.Unread = 0
	}
}

func (r *Registry) Get(roomID string) (models.Session, bool) {
	s, ok := r.sessions[roomID]
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// List returns copies of the sessions matching filter, most recent activity first.
func (r *Registry) List(filter models.SessionFilter) []models.Session {
	all := lo.MapToSlice(r.sessions, func(_ string, s *models.Session) models.Session {
		return *s
	})
	if filter == models.SessionFilterActive {
		all = lo.Filter(all, func(s models.Session, _ int) bool {
			return s.AgentMode
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].RoomID < all[j].RoomID
	})
	return all
}

func (r *Registry) findByUser(userID string) *models.Session {
	for _, s := range r.sessions {
		if s.UserID == userID {
			return s
		}
	}
	return nil
}
