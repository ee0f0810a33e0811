package console

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"helpdesk/internal/models"
	"helpdesk/internal/notify"
	"helpdesk/internal/protocol"
)

type emission struct {
	event   string
	payload any
}

type mockTransport struct {
	mu      sync.Mutex
	emits   []emission
	emitErr error
	ack     models.Ack
	ackErr  error
}

func (m *mockTransport) Emit(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErr != nil {
		return m.emitErr
	}
	m.emits = append(m.emits, emission{event: event, payload: payload})
	return nil
}

func (m *mockTransport) EmitWithAck(ctx context.Context, event string, payload any) (models.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emission{event: event, payload: payload})
	return m.ack, m.ackErr
}

func (m *mockTransport) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, e := range m.emits {
		names = append(names, e.event)
	}
	return names
}

type mockNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

func (m *mockNotifier) all() []notify.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Notification(nil), m.notes...)
}

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestConsole(t *testing.T) (*Console, *mockTransport, *mockNotifier) {
	t.Helper()
	tr := &mockTransport{ack: models.Ack{Success: true}}
	n := &mockNotifier{}
	c := New(Config{AgentName: "Ops"}, tr, n, nil)
	c.now = func() time.Time { return t0 }
	c.registry.now = c.now
	c.SetConnected(true)
	return c, tr, n
}

func userMessage(room, body string, ts time.Time) protocol.UserMessage {
	return protocol.UserMessage{
		RoomID: room,
		UserID: strings.TrimPrefix(room, "user_"),
		Message: models.Message{
			ID:        protocol.FallbackID(models.RoleUser, ts, body),
			Message:   body,
			Role:      models.RoleUser,
			Timestamp: ts,
			UserName:  "Jane",
		},
	}
}

func snapshot(rooms ...string) protocol.ActiveSessions {
	var sessions []models.Session
	for _, r := range rooms {
		sessions = append(sessions, models.Session{
			UserID:      strings.TrimPrefix(r, "user_"),
			UserName:    "Jane",
			RoomID:      r,
			LastMessage: models.ConnectionRequestPreview,
			Timestamp:   t0,
			AgentMode:   true,
		})
	}
	return protocol.ActiveSessions{Sessions: sessions}
}

func TestConsole_ConnectedMovesToReady(t *testing.T) {
	c, _, _ := newTestConsole(t)
	require.Equal(t, models.ConsoleStateLoading, c.Status().State)

	c.Apply(context.Background(), protocol.Connected{})
	require.Equal(t, models.ConsoleStateReady, c.Status().State)
}

func TestConsole_SnapshotIdempotent(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1", "user_2"))
	first := c.Sessions(models.SessionFilterAll)
	c.Apply(ctx, snapshot("user_1", "user_2"))
	second := c.Sessions(models.SessionFilterAll)

	require.Len(t, second, 2)
	require.Equal(t, first, second)
}

func TestConsole_AssistantSuppressedInAgentMode(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})

	c.Apply(ctx, protocol.AssistantMessage{
		RoomID: "user_1",
		Message: models.Message{
			ID: "ai-1", Message: "I am the bot", Role: models.RoleAssistant, Timestamp: t0.Add(time.Minute),
		},
	})

	_, messages := c.Messages()
	require.Empty(t, messages)
	s, ok := c.Session("user_1")
	require.True(t, ok)
	require.Equal(t, models.ConnectionRequestPreview, s.LastMessage)
}

func TestConsole_AssistantShownOutsideAgentMode(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	// Sessions created from a user message while nobody escalated are
	// still agent mode; force assistant mode through the registry.
	c.Apply(ctx, userMessage("user_9", "hi", t0))
	c.mu.Lock()
	c.registry.sessions["user_9"].AgentMode = false
	c.mu.Unlock()

	require.NoError(t, c.Select(ctx, "user_9"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})
	c.Apply(ctx, protocol.AssistantMessage{
		RoomID:  "user_9",
		Message: models.Message{ID: "ai-1", Message: "How can I help?", Role: models.RoleAssistant, Timestamp: t0.Add(time.Second)},
	})

	_, messages := c.Messages()
	require.Len(t, messages, 1)
	s, _ := c.Session("user_9")
	require.Equal(t, "How can I help?", s.LastMessage)
}

func TestConsole_EchoReconciliation(t *testing.T) {
	c, tr, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})

	sent, err := c.Send(ctx, "Hello", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sent.ID, "tmp-"))
	c.Wait()

	c.Apply(ctx, protocol.AgentEcho{
		RoomID: "user_1",
		Message: models.Message{
			ID: "srv-42", Message: "Hello", Role: models.RoleAgent, Timestamp: t0.Add(500 * time.Millisecond),
		},
		ServerID: true,
	})

	_, messages := c.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "srv-42", messages[0].ID)
	require.Equal(t, models.MessageStatusConfirmed, messages[0].Status)
	require.Equal(t, []string{models.EmitJoinSession, models.EmitGetHistory, models.EmitAgentMessage}, tr.events())
}

func TestConsole_EchoFromOtherAgentAppended(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})

	_, err := c.Send(ctx, "Hello", nil)
	require.NoError(t, err)
	c.Wait()

	c.Apply(ctx, protocol.AgentEcho{
		RoomID:  "user_1",
		Message: models.Message{ID: "srv-7", Message: "Different text", Role: models.RoleAgent, Timestamp: t0, AgentName: "Other"},
	})

	_, messages := c.Messages()
	require.Len(t, messages, 2)
}

func TestConsole_UnreadAccounting(t *testing.T) {
	c, _, n := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1", "user_2"))
	require.NoError(t, c.Select(ctx, "user_2"))

	for i := 0; i < 3; i++ {
		c.Apply(ctx, userMessage("user_1", "msg", t0.Add(time.Duration(i)*10*time.Second)))
	}
	s, _ := c.Session("user_1")
	require.Equal(t, 3, s.Unread)

	c.Apply(ctx, protocol.ChatHistory{Success: true})
	_, before := c.Messages()

	require.NoError(t, c.Select(ctx, "user_1"))
	s, _ = c.Session("user_1")
	require.Equal(t, 0, s.Unread)
	_, after := c.Messages()
	require.Equal(t, len(before), len(after))

	c.Wait()
	notes := n.all()
	require.Len(t, notes, 3)
	require.Equal(t, "New message from Jane", notes[0].Title)
	require.Equal(t, "message-1", notes[0].Tag)
	require.Equal(t, "user_1", notes[0].Data.RoomID)
}

func TestConsole_DeduplicatesRetransmission(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})

	c.Apply(ctx, userMessage("user_1", "Are you there?", t0))
	c.Apply(ctx, userMessage("user_1", "Are you there?", t0.Add(1500*time.Millisecond)))

	_, messages := c.Messages()
	require.Len(t, messages, 1)
}

func TestConsole_UnknownRoomCreatesSession(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, userMessage("user_77", "hello?", t0))

	sessions := c.Sessions(models.SessionFilterAll)
	require.Len(t, sessions, 1)
	require.Equal(t, "user_77", sessions[0].RoomID)
	require.Equal(t, 1, sessions[0].Unread)
	require.Equal(t, "hello?", sessions[0].LastMessage)
}

func TestConsole_TruncatesPreview(t *testing.T) {
	c, _, _ := newTestConsole(t)
	body := strings.Repeat("x", 80)

	c.Apply(context.Background(), userMessage("user_1", body, t0))

	s, _ := c.Session("user_1")
	require.Equal(t, strings.Repeat("x", 50)+"...", s.LastMessage)
}

func TestConsole_ConnectionRequest(t *testing.T) {
	c, _, n := newTestConsole(t)
	ctx := context.Background()

	req := protocol.ConnectionRequest{UserID: "5", UserName: "Bob", RoomID: "user_5"}
	c.Apply(ctx, req)
	c.Apply(ctx, req)

	sessions := c.Sessions(models.SessionFilterActive)
	require.Len(t, sessions, 1)
	require.Equal(t, 2, sessions[0].Unread)
	require.True(t, sessions[0].AgentMode)

	c.Wait()
	notes := n.all()
	require.Len(t, notes, 2)
	require.Equal(t, "Bob needs assistance", notes[0].Title)
	require.Equal(t, "Click to open chat", notes[0].Body)
	require.Equal(t, "user-5", notes[0].Tag)
}

func TestConsole_StaleHistoryDiscarded(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1", "user_2"))
	require.NoError(t, c.Select(ctx, "user_1"))
	require.NoError(t, c.Select(ctx, "user_2"))

	// First response answers the abandoned user_1 request.
	c.Apply(ctx, protocol.ChatHistory{Success: true, Messages: []models.Message{
		{ID: "a", Message: "from user 1", Role: models.RoleUser, Timestamp: t0},
	}})
	_, messages := c.Messages()
	require.Empty(t, messages)

	c.Apply(ctx, protocol.ChatHistory{Success: true, Messages: []models.Message{
		{ID: "b", Message: "from user 2", Role: models.RoleUser, Timestamp: t0},
	}})
	room, messages := c.Messages()
	require.Equal(t, "user_2", room)
	require.Len(t, messages, 1)
	require.Equal(t, "b", messages[0].ID)
}

func TestConsole_MalformedHistoryDoesNotShiftLaterLoads(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()
	dec := protocol.NewDecoder()
	decode := func(data string) protocol.Event {
		ev, _ := dec.Decode(models.Envelope{Event: models.EventChatHistory, Data: []byte(data)})
		require.NotNil(t, ev)
		return ev
	}

	c.Apply(ctx, snapshot("user_1", "user_2", "user_3"))

	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, decode(`{"success":true,"messages":{"broken":true}}`))

	require.NoError(t, c.Select(ctx, "user_2"))
	c.Apply(ctx, decode(`{"success":true,"messages":[{"id":"a","message":"hi","role":"system"}]}`))
	room, messages := c.Messages()
	require.Equal(t, "user_2", room)
	require.Len(t, messages, 1)
	require.Equal(t, models.UnavailableMessage, messages[0].Message)

	require.NoError(t, c.Select(ctx, "user_3"))
	c.Apply(ctx, decode(`{"success":true,"messages":[{"id":"b","message":"hello","role":"user"}]}`))
	room, messages = c.Messages()
	require.Equal(t, "user_3", room)
	require.Len(t, messages, 1)
	require.Equal(t, "b", messages[0].ID)
}

func TestConsole_HistoryMatchedByRoom(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1", "user_2"))
	require.NoError(t, c.Select(ctx, "user_1"))
	require.NoError(t, c.Select(ctx, "user_2"))

	// The user_1 response never arrives.
	c.Apply(ctx, protocol.ChatHistory{Success: true, RoomID: "user_2", Messages: []models.Message{
		{ID: "b", Message: "from user 2", Role: models.RoleUser, Timestamp: t0},
	}})
	_, messages := c.Messages()
	require.Len(t, messages, 1)

	c.mu.Lock()
	pending := len(c.history)
	c.mu.Unlock()
	require.Zero(t, pending)
}

func TestConsole_HistoryNamingOtherRoomDiscarded(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1", "user_2"))
	require.NoError(t, c.Select(ctx, "user_2"))
	c.Apply(ctx, protocol.ChatHistory{Success: true, RoomID: "user_1", Messages: []models.Message{
		{ID: "a", Message: "wrong room", Role: models.RoleUser, Timestamp: t0},
	}})

	_, messages := c.Messages()
	require.Empty(t, messages)
}

func TestConsole_SendRequiresConnection(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()
	var alerts []string
	c.OnChange(func(u models.ViewUpdate) {
		if u.Type == models.ViewUpdateAlert {
			alerts = append(alerts, u.Message)
		}
	})

	_, err := c.Send(ctx, "hi", nil)
	require.ErrorIs(t, err, ErrNoSelection)

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))

	_, err = c.Send(ctx, "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)

	c.SetConnected(false)
	_, err = c.Send(ctx, "hi", nil)
	require.ErrorIs(t, err, ErrTransportUnavailable)
	require.Len(t, alerts, 1)

	_, messages := c.Messages()
	require.Empty(t, messages)
}

func TestConsole_FailedSendMarkedAndResent(t *testing.T) {
	c, tr, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})

	tr.mu.Lock()
	tr.ack = models.Ack{Success: false, Error: "room closed"}
	tr.mu.Unlock()

	sent, err := c.Send(ctx, "Hello", nil)
	require.NoError(t, err)
	c.Wait()

	_, messages := c.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, models.MessageStatusFailed, messages[0].Status)

	tr.mu.Lock()
	tr.ack = models.Ack{Success: true, MessageID: "srv-1"}
	tr.mu.Unlock()

	_, err = c.Resend(ctx, sent.ID)
	require.NoError(t, err)
	c.Wait()

	_, messages = c.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "srv-1", messages[0].ID)
	require.Equal(t, models.MessageStatusConfirmed, messages[0].Status)

	_, err = c.Resend(ctx, "srv-1")
	require.ErrorIs(t, err, ErrNotResendable)
}

func TestConsole_ResendAfterWindowRendersOnce(t *testing.T) {
	tests := []struct {
		name     string
		echoID   string
		serverID bool
	}{
		{"Echo with server id", "srv-9", true},
		{"Echo with fallback id", "agent-fallback", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tr, _ := newTestConsole(t)
			ctx := context.Background()

			c.Apply(ctx, snapshot("user_1"))
			require.NoError(t, c.Select(ctx, "user_1"))
			c.Apply(ctx, protocol.ChatHistory{Success: true})

			tr.mu.Lock()
			tr.ack = models.Ack{Success: false, Error: "timeout"}
			tr.mu.Unlock()
			sent, err := c.Send(ctx, "Retry me", nil)
			require.NoError(t, err)
			c.Wait()

			c.now = func() time.Time { return t0.Add(15 * time.Second) }
			tr.mu.Lock()
			tr.ack = models.Ack{Success: true, MessageID: "srv-9"}
			tr.mu.Unlock()
			_, err = c.Resend(ctx, sent.ID)
			require.NoError(t, err)
			c.Wait()

			c.Apply(ctx, protocol.AgentEcho{
				RoomID:   "user_1",
				ServerID: tt.serverID,
				Message: models.Message{
					ID:        tt.echoID,
					Message:   "Retry me",
					Role:      models.RoleAgent,
					Timestamp: t0.Add(15*time.Second + 300*time.Millisecond),
				},
			})

			_, messages := c.Messages()
			require.Len(t, messages, 1)
			require.Equal(t, models.MessageStatusConfirmed, messages[0].Status)
		})
	}
}

func TestConsole_AckTransportErrorMarksFailed(t *testing.T) {
	c, tr, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.Apply(ctx, protocol.ChatHistory{Success: true})

	tr.mu.Lock()
	tr.ackErr = errors.New("ack timeout")
	tr.mu.Unlock()

	_, err := c.Send(ctx, "", []models.Attachment{{Type: models.AttachmentTypeLink, URL: "https://x"}})
	require.NoError(t, err)
	c.Wait()

	_, messages := c.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "Attachment", messages[0].Message)
	require.Equal(t, models.MessageStatusFailed, messages[0].Status)
}

func TestConsole_SelectPendingWaitsForSession(t *testing.T) {
	c, tr, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.SelectPending(ctx, notify.Target{UserID: "3", RoomID: "user_3"}))
	_, ok := c.Selected()
	require.False(t, ok)

	c.Apply(ctx, protocol.ConnectionRequest{UserID: "3", UserName: "Kim", RoomID: "user_3"})

	s, ok := c.Selected()
	require.True(t, ok)
	require.Equal(t, "user_3", s.RoomID)
	require.Equal(t, 0, s.Unread)
	require.Contains(t, tr.events(), models.EmitGetHistory)
}

func TestConsole_SelectUnknownSession(t *testing.T) {
	c, _, _ := newTestConsole(t)
	err := c.Select(context.Background(), "user_404")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestConsole_SelectEmitFailureDropsHistoryRequest(t *testing.T) {
	c, tr, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	tr.emitErr = errors.New("write failed")
	require.Error(t, c.Select(ctx, "user_1"))

	c.mu.Lock()
	pending := len(c.history)
	c.mu.Unlock()
	require.Zero(t, pending)
}

func TestConsole_DisconnectDropsOutstandingHistory(t *testing.T) {
	c, _, _ := newTestConsole(t)
	ctx := context.Background()

	c.Apply(ctx, snapshot("user_1"))
	require.NoError(t, c.Select(ctx, "user_1"))
	c.SetConnected(false)
	c.SetConnected(true)

	c.Apply(ctx, protocol.ChatHistory{Success: true, Messages: []models.Message{
		{ID: "late", Message: "late", Role: models.RoleUser, Timestamp: t0},
	}})
	_, messages := c.Messages()
	require.Empty(t, messages)
}

func TestConsole_Snapshot(t *testing.T) {
	c, _, _ := newTestConsole(t)
	c.Apply(context.Background(), snapshot("user_1"))

	updates := c.Snapshot()
	require.Len(t, updates, 2)
	require.Equal(t, models.ViewUpdateStatus, updates[0].Type)
	require.Equal(t, models.ConsoleStateReady, updates[0].State)
	require.Equal(t, models.ViewUpdateSessions, updates[1].Type)
	require.Len(t, updates[1].Sessions, 1)

	require.NoError(t, c.Select(context.Background(), "user_1"))
	updates = c.Snapshot()
	require.Len(t, updates, 3)
	require.Equal(t, "user_1", updates[2].RoomID)
}
