// Package protocol decodes backend event frames into typed events.
//
// All payload defaulting (display names, derived room ids, missing
// timestamps, fallback message ids) happens here so the console only ever
// sees complete values.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"helpdesk/internal/models"
)

var (
	ErrMalformed    = errors.New("malformed payload")
	ErrUnknownEvent = errors.New("unknown event")
)

// DecodeError reports an event whose payload failed validation.
type DecodeError struct {
	Event  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Event, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}

// Event is any decoded inbound event.
type Event interface {
	EventName() string
}

type Connected struct {
	Message string
}

type ActiveSessions struct {
	Sessions []models.Session
}

type ConnectionRequest struct {
	UserID   string
	UserName string
	RoomID   string
	Message  string
}

type ChatHistory struct {
	Success  bool
	RoomID   string // Empty when the backend does not echo the room
	Messages []models.Message
}

type UserMessage struct {
	RoomID  string
	UserID  string
	Message models.Message
}

type AssistantMessage struct {
	RoomID  string
	Message models.Message
}

type AgentEcho struct {
	RoomID   string
	Message  models.Message
	ServerID bool // Message.ID was assigned by the backend
}

type MessageSent struct {
	RoomID    string
	MessageID string
}

type AckEvent struct {
	ID  string
	Ack models.Ack
}

func (Connected) EventName() string         { return models.EventConnected }
func (ActiveSessions) EventName() string    { return models.EventActiveSessions }
func (ConnectionRequest) EventName() string { return models.EventConnectionRequest }
func (ChatHistory) EventName() string       { return models.EventChatHistory }
func (UserMessage) EventName() string       { return models.EventUserMessage }
func (AssistantMessage) EventName() string  { return models.EventAIResponse }
func (AgentEcho) EventName() string         { return models.EventAgentMessage }
func (MessageSent) EventName() string       { return models.EventMessageSent }
func (AckEvent) EventName() string          { return models.EventAck }

// Decoder turns envelopes into events. The zero value is not usable, use NewDecoder.
type Decoder struct {
	now func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Decode validates env and returns the typed event it carries.
func (d *Decoder) Decode(env models.Envelope) (Event, error) {
	switch env.Event {
	case models.EventConnected:
		var p struct {
			Message string `json:"message"`
		}
		if err := d.unmarshal(env, &p); err != nil {
			return nil, err
		}
		return Connected{Message: p.Message}, nil

	case models.EventActiveSessions:
		return d.decodeActiveSessions(env)

	case models.EventConnectionRequest:
		var p struct {
			UserID   string `json:"userId"`
			UserName string `json:"userName"`
			RoomID   string `json:"roomId"`
			Message  string `json:"message"`
		}
		if err := d.unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed(env.Event, "missing userId")
		}
		return ConnectionRequest{
			UserID:   p.UserID,
			UserName: userNameOrDefault(p.UserName),
			RoomID:   roomOrDefault(p.RoomID, p.UserID),
			Message:  p.Message,
		}, nil

	case models.EventChatHistory:
		return d.decodeHistory(env)

	case models.EventUserMessage:
		var p wireMessage
		if err := d.unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" && p.UserID == "" {
			return nil, malformed(env.Event, "missing roomId")
		}
		ts := p.Timestamp.Or(d.now())
		id := p.id()
		if id == "" {
			id = fmt.Sprintf("user-%d-%s", ts.UnixMilli(), p.UserID)
		}
		return UserMessage{
			RoomID: roomOrDefault(p.RoomID, p.UserID),
			UserID: p.UserID,
			Message: models.Message{
				ID:          id,
				Message:     p.Message,
				Role:        models.RoleUser,
				Timestamp:   ts,
				Attachments: p.Attachments,
				UserName:    userNameOrDefault(p.UserName),
			},
		}, nil

	case models.EventAIResponse:
		var p wireMessage
		if err := d.unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, malformed(env.Event, "missing roomId")
		}
		msg := p.toMessage(models.RoleAssistant, d.now())
		return AssistantMessage{RoomID: p.RoomID, Message: msg}, nil

	case models.EventAgentMessage:
		var p wireMessage
		if err := d.unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, malformed(env.Event, "missing roomId")
		}
		msg := p.toMessage(models.RoleAgent, d.now())
		return AgentEcho{RoomID: p.RoomID, Message: msg, ServerID: p.id() != ""}, nil

	case models.EventMessageSent:
		var p struct {
			RoomID    string `json:"roomId"`
			MessageID string `json:"messageId"`
		}
		if err := d.unmarshal(env, &p); err != nil {
			return nil, err
		}
		return MessageSent{RoomID: p.RoomID, MessageID: p.MessageID}, nil

	case models.EventAck:
		if env.AckID == "" {
			return nil, malformed(env.Event, "missing ackId")
		}
		var ack models.Ack
		if err := d.unmarshal(env, &ack); err != nil {
			return nil, err
		}
		return AckEvent{ID: env.AckID, Ack: ack}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func (d *Decoder) decodeActiveSessions(env models.Envelope) (Event, error) {
	var p struct {
		Sessions []struct {
			UserID      string   `json:"userId"`
			UserName    string   `json:"userName"`
			RoomID      string   `json:"roomId"`
			LastMessage string   `json:"lastMessage"`
			RequestedAt wireTime `json:"requestedAt"`
			ConnectedAt wireTime `json:"connectedAt"`
		} `json:"sessions"`
	}
	if err := d.unmarshal(env, &p); err != nil {
		return nil, err
	}

	now := d.now()
	sessions := make([]models.Session, 0, len(p.Sessions))
	for i, s := range p.Sessions {
		if s.UserID == "" {
			return nil, malformed(env.Event, fmt.Sprintf("session %d: missing userId", i))
		}
		preview := s.LastMessage
		if preview == "" {
			preview = models.ConnectionRequestPreview
		}
		sessions = append(sessions, models.Session{
			UserID:      s.UserID,
			UserName:    userNameOrDefault(s.UserName),
			RoomID:      roomOrDefault(s.RoomID, s.UserID),
			LastMessage: preview,
			Timestamp:   s.RequestedAt.Or(s.ConnectedAt.Or(now)),
			AgentMode:   true,
		})
	}
	return ActiveSessions{Sessions: sessions}, nil
}

// decodeHistory never fails without an event: a history response always
// answers an outstanding request, so even an undecodable one is returned as
// an unsuccessful ChatHistory alongside the error.
func (d *Decoder) decodeHistory(env models.Envelope) (Event, error) {
	var p struct {
		Success  bool              `json:"success"`
		RoomID   string            `json:"roomId"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := d.unmarshal(env, &p); err != nil {
		return ChatHistory{}, err
	}
	if !p.Success {
		return ChatHistory{RoomID: p.RoomID}, nil
	}

	now := d.now()
	messages := make([]models.Message, 0, len(p.Messages))
	for i, raw := range p.Messages {
		messages = append(messages, historyRecord(raw, i, now))
	}
	return ChatHistory{Success: true, RoomID: p.RoomID, Messages: messages}, nil
}

// historyRecord decodes one stored message. A record that cannot be shown
// becomes a placeholder in its place.
func historyRecord(raw json.RawMessage, i int, now time.Time) models.Message {
	var m wireMessage
	err := json.Unmarshal(raw, &m)
	role := models.Role(m.Role)
	if err == nil && role.Valid() {
		return m.toMessage(role, now)
	}

	ts := now
	if err == nil {
		ts = m.Timestamp.Or(now)
	}
	id := m.id()
	if err != nil || id == "" {
		id = fmt.Sprintf("unavailable-%d-%d", ts.UnixMilli(), i)
	}
	return models.Message{
		ID:        id,
		Message:   models.UnavailableMessage,
		Role:      models.RoleAssistant,
		Timestamp: ts,
	}
}

func (d *Decoder) unmarshal(env models.Envelope, v any) error {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Event: env.Event, Reason: err.Error()}
	}
	return nil
}

type wireMessage struct {
	MongoID     string              `json:"_id"`
	ID          string              `json:"id"`
	Message     string              `json:"message"`
	Role        string              `json:"role"`
	RoomID      string              `json:"roomId"`
	UserID      string              `json:"userId"`
	UserName    string              `json:"userName"`
	AgentName   string              `json:"agentName"`
	Timestamp   wireTime            `json:"timestamp"`
	Attachments []models.Attachment `json:"attachments"`
	Metadata    struct {
		AgentName string `json:"agentName"`
	} `json:"metadata"`
}

func (m wireMessage) id() string {
	if m.MongoID != "" {
		return m.MongoID
	}
	return m.ID
}

func (m wireMessage) toMessage(role models.Role, now time.Time) models.Message {
	ts := m.Timestamp.Or(now)
	id := m.id()
	if id == "" {
		id = FallbackID(role, ts, m.Message)
	}
	agentName := m.AgentName
	if agentName == "" {
		agentName = m.Metadata.AgentName
	}
	return models.Message{
		ID:          id,
		Message:     m.Message,
		Role:        role,
		Timestamp:   ts,
		Attachments: m.Attachments,
		AgentName:   agentName,
		UserName:    m.UserName,
	}
}

// FallbackID composes an id for records the server sent without one.
func FallbackID(role models.Role, ts time.Time, body string) string {
	return fmt.Sprintf("%s-%d-%s", role, ts.UnixMilli(), prefix(body, 20))
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// wireTime accepts RFC3339 strings and epoch milliseconds.
type wireTime struct {
	t   time.Time
	set bool
}

func (w *wireTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", str, err)
		}
		w.t, w.set = t, true
		return nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", s, err)
	}
	w.t, w.set = time.UnixMilli(int64(ms)), true
	return nil
}

func (w wireTime) Or(fallback time.Time) time.Time {
	if !w.set {
		return fallback
	}
	return w.t
}

func userNameOrDefault(name string) string {
	if name == "" {
		return models.DefaultUserName
	}
	return name
}

func roomOrDefault(roomID, userID string) string {
	if roomID == "" {
		return models.RoomForUser(userID)
	}
	return roomID
}

func malformed(event, reason string) error {
	return &DecodeError{Event: event, Reason: reason}
}

// Encode builds an outbound envelope for event with payload as data.
func Encode(event string, payload any, ackID string) (models.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return models.Envelope{Event: event, Data: data, AckID: ackID}, nil
}
