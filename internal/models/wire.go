package models

import "encoding/json"

// Inbound event names sent by the chat backend.
const (
	EventConnected         = "connected"
	EventActiveSessions    = "active_sessions"
	EventConnectionRequest = "agent_connection_request"
	EventChatHistory       = "chat_history"
	EventUserMessage       = "user_message"
	EventAIResponse        = "ai_response"
	EventAgentMessage      = "agent_message"
	EventMessageSent       = "message_sent"
	EventAck               = "ack"
)

// Outbound event names emitted by the console.
const (
	EmitJoinSession  = "admin_join_session"
	EmitGetHistory   = "get_history"
	EmitAgentMessage = "agent_message"
)

// Envelope is a single websocket frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// Ack is the payload of an acknowledgment frame.
type Ack struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type JoinSessionRequest struct {
	RoomID string `json:"roomId"`
}

type HistoryRequest struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit"`
}

type AgentMessageRequest struct {
	Message     string       `json:"message"`
	RoomID      string       `json:"roomId"`
	Role        Role         `json:"role"`
	AgentName   string       `json:"agentName"`
	Attachments []Attachment `json:"attachments"`
}
