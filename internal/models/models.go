package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

const (
	DefaultUserName = "User"
	// ConnectionRequestPreview is shown for sessions that have escalated but sent nothing yet.
	ConnectionRequestPreview = "Requested agent connection"
	// UnavailableMessage replaces stored messages that could not be decoded.
	UnavailableMessage = "message unavailable"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAgent     Role = "agent"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAssistant:
		return true
	}
	return false
}

// Session represents one remote user conversation.
type Session struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	RoomID      string    `json:"roomId"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
	Unread      int       `json:"unread"`
	AgentMode   bool      `json:"agentMode"` // Human agent took over, assistant replies are hidden
}

// RoomForUser derives the room id used when the server omits it.
func RoomForUser(userID string) string {
	return "user_" + userID
}

type MessageStatus string

const (
	MessageStatusConfirmed MessageStatus = ""
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message represents a single utterance in a session timeline.
type Message struct {
	ID          string        `json:"id"`
	Message     string        `json:"message"`
	Role        Role          `json:"role"`
	Timestamp   time.Time     `json:"timestamp"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	AgentName   string        `json:"agentName,omitempty"`
	UserName    string        `json:"userName,omitempty"`
	Status      MessageStatus `json:"status,omitempty"`
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypePDF   AttachmentType = "pdf"
	AttachmentTypeLink  AttachmentType = "link"
)

type Attachment struct {
	Type       AttachmentType `json:"type"`
	Filename   string         `json:"filename,omitempty"`
	MimeType   string         `json:"mimeType,omitempty"`
	Size       int64          `json:"size,omitempty"`
	URL        string         `json:"url,omitempty"`
	Base64Data string         `json:"base64Data,omitempty"`
	LinkText   string         `json:"linkText,omitempty"`
}

// Admin is the minimal profile of the logged in operator.
type Admin struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// DisplayName falls back to "Admin" like the backend does for unnamed operators.
func (a Admin) DisplayName() string {
	if a.FullName == "" {
		return "Admin"
	}
	return a.FullName
}

type ConsoleState string

const (
	ConsoleStateLoading ConsoleState = "loading"
	ConsoleStateReady   ConsoleState = "ready"
)

type SessionFilter string

const (
	SessionFilterActive SessionFilter = "active"
	SessionFilterAll    SessionFilter = "all"
)

type ViewUpdateType string

const (
	ViewUpdateSessions ViewUpdateType = "sessions"
	ViewUpdateMessages ViewUpdateType = "messages"
	ViewUpdateStatus   ViewUpdateType = "status"
	ViewUpdateAlert    ViewUpdateType = "alert"
)

// ViewUpdate is pushed to local dashboard viewers after every state change.
type ViewUpdate struct {
	Type     ViewUpdateType `json:"type"`
	RoomID   string         `json:"roomId,omitempty"`
	Sessions []Session      `json:"sessions,omitempty"`
	Messages []Message      `json:"messages,omitempty"`
	State    ConsoleState   `json:"state,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// APIResponse is the generic envelope of the local dashboard API.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Credentials are what a successful login leaves on disk.
type Credentials struct {
	Token string `json:"token"`
	Admin Admin  `json:"admin"`
}

// PushSubscription is a browser Web Push endpoint registered by the operator.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

type PushKeys struct {
	Auth   string `json:"auth"`
	P256dh string `json:"p256dh"`
}
