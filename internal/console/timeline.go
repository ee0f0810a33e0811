package console

import (
	"time"

	"helpdesk/internal/models"
)

// Timeline is the insertion-ordered message list of the selected session.
type Timeline struct {
	messages []models.Message
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// LoadHistory replaces the whole timeline.
func (t *Timeline) LoadHistory(messages []models.Message) {
	t.messages = append([]models.Message(nil), messages...)
}

func (t *Timeline) Clear() {
	t.messages = nil
}

// Append adds msg unless it duplicates a message already on the timeline.
func (t *Timeline) Append(msg models.Message) bool {
	for _, existing := range t.messages {
		if IsDuplicate(existing, msg) {
			return false
		}
	}
	t.messages = append(t.messages, msg)
	return true
}

// AppendOptimistic adds a locally sent message without waiting for the server.
func (t *Timeline) AppendOptimistic(msg models.Message) {
	msg.Status = models.MessageStatusPending
	t.messages = append(t.messages, msg)
}

// ApplyAgentEcho reconciles the server copy of an agent message. The most
// recent matching local message is replaced; an echo with no local match was
// sent by another agent and is appended.
func (t *Timeline) ApplyAgentEcho(echo models.Message, serverID bool) (replaced bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		local := t.messages[i]
		if !isEchoOf(local, echo) {
			continue
		}
		merged := echo
		if !serverID {
			merged.ID = local.ID
		}
		if len(merged.Attachments) == 0 {
			merged.Attachments = local.Attachments
		}
		if merged.AgentName == "" {
			merged.AgentName = local.AgentName
		}
		merged.Status = models.MessageStatusConfirmed
		t.messages[i] = merged
		return true
	}
	t.messages = append(t.messages, echo)
	return false
}

// Confirm marks a pending message as delivered, adopting the server id when one is known.
func (t *Timeline) Confirm(id, serverID string) bool {
	i := t.index(id)
	if i < 0 {
		return false
	}
	if serverID != "" {
		t.messages[i].ID = serverID
	}
	t.messages[i].Status = models.MessageStatusConfirmed
	return true
}

// SetStatus changes the delivery status of the message with id.
func (t *Timeline) SetStatus(id string, status models.MessageStatus) bool {
	i := t.index(id)
	if i < 0 {
		return false
	}
	t.messages[i].Status = status
	return true
}

// Retry puts a failed message back to pending under a fresh timestamp, so the
// echo of the new attempt falls inside the duplicate window.
func (t *Timeline) Retry(id string, now time.Time) (models.Message, bool) {
	i := t.index(id)
	if i < 0 {
		return models.Message{}, false
	}
	t.messages[i].Status = models.MessageStatusPending
	t.messages[i].Timestamp = now
	return t.messages[i], true
}

func (t *Timeline) Get(id string) (models.Message, bool) {
	i := t.index(id)
	if i < 0 {
		return models.Message{}, false
	}
	return t.messages[i], true
}

func (t *Timeline) Len() int {
	return len(t.messages)
}

// Messages returns a copy safe to hand to readers.
func (t *Timeline) Messages() []models.Message {
	return append([]models.Message(nil), t.messages...)
}

func (t *Timeline) index(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}
