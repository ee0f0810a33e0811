package console

import (
	"testing"
	"time"

	"helpdesk/internal/models"
	"helpdesk/internal/protocol"
)

func TestRegistry_ApplySnapshot(t *testing.T) {
	r := NewRegistry()
	r.ApplySnapshot([]models.Session{
		{UserID: "1", RoomID: "user_1", Unread: 4, AgentMode: false},
		{UserID: "2", RoomID: "user_2"},
	})

	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
	s, _ := r.Get("user_1")
	if s.Unread != 0 || !s.AgentMode {
		t.Errorf("snapshot entry not normalised: %+v", s)
	}

	r.ApplySnapshot(nil)
	if r.Len() != 2 {
		t.Errorf("empty snapshot should keep sessions, got %d", r.Len())
	}

	r.ApplySnapshot([]models.Session{{UserID: "3", RoomID: "user_3"}})
	if r.Len() != 1 {
		t.Errorf("snapshot should replace sessions, got %d", r.Len())
	}
}

func TestRegistry_ConnectionRequestUpsertsByUser(t *testing.T) {
	r := NewRegistry()
	r.ApplySnapshot([]models.Session{{UserID: "1", RoomID: "custom-room"}})
	r.sessions["custom-room"].AgentMode = false

	created := r.ApplyConnectionRequest(protocol.ConnectionRequest{UserID: "1", RoomID: "user_1"})
	if created {
		t.Error("existing user should not create a session")
	}
	s, _ := r.Get("custom-room")
	if !s.AgentMode || s.Unread != 1 {
		t.Errorf("unexpected session %+v", s)
	}
	if _, ok := r.Get("user_1"); ok {
		t.Error("duplicate session created under derived room")
	}
}

func TestRegistry_InboundSelectedDoesNotCountUnread(t *testing.T) {
	r := NewRegistry()
	ev := protocol.UserMessage{
		RoomID:  "user_1",
		UserID:  "1",
		Message: models.Message{Message: "hi", Role: models.RoleUser, Timestamp: time.Now(), UserName: "Ann"},
	}
	r.ApplyInboundMessage(ev, true)
	s, _ := r.Get("user_1")
	if s.Unread != 0 {
		t.Errorf("expected 0 unread for selected session, got %d", s.Unread)
	}
	if s.UserName != "Ann" {
		t.Errorf("expected user name Ann, got %s", s.UserName)
	}
}

func TestRegistry_AttachmentPreview(t *testing.T) {
	r := NewRegistry()
	r.ApplyInboundMessage(protocol.UserMessage{
		RoomID: "user_1",
		Message: models.Message{
			Role:        models.RoleUser,
			Attachments: []models.Attachment{{Type: models.AttachmentTypeImage, Filename: "a.png"}},
		},
	}, false)
	s, _ := r.Get("user_1")
	if s.LastMessage != "📎 1 attachment(s)" {
		t.Errorf("unexpected preview %q", s.LastMessage)
	}
}

func TestRegistry_ListOrderAndFilter(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.sessions["a"] = &models.Session{RoomID: "a", Timestamp: base, AgentMode: true}
	r.sessions["b"] = &models.Session{RoomID: "b", Timestamp: base.Add(time.Hour), AgentMode: false}
	r.sessions["c"] = &models.Session{RoomID: "c", Timestamp: base.Add(2 * time.Hour), AgentMode: true}

	all := r.List(models.SessionFilterAll)
	if len(all) != 3 || all[0].RoomID != "c" || all[1].RoomID != "b" || all[2].RoomID != "a" {
		t.Errorf("unexpected order %+v", all)
	}

	active := r.List(models.SessionFilterActive)
	if len(active) != 2 || active[0].RoomID != "c" || active[1].RoomID != "a" {
		t.Errorf("unexpected active list %+v", active)
	}
}
