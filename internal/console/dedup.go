package console

import (
	"time"

	"helpdesk/internal/models"
)

// DuplicateWindow is how far apart two timestamps may be for the same logical message.
const DuplicateWindow = 2 * time.Second

// IsDuplicate reports whether incoming is a retransmission of existing.
// Attachment-only messages must also carry the same attachment filenames.
func IsDuplicate(existing, incoming models.Message) bool {
	if existing.Role != incoming.Role || existing.Message != incoming.Message {
		return false
	}
	if !withinWindow(existing.Timestamp, incoming.Timestamp) {
		return false
	}
	if incoming.Message == "" {
		return sameFilenames(existing.Attachments, incoming.Attachments)
	}
	return true
}

// isEchoOf reports whether echo confirms the locally sent message. A local
// message that already adopted the acknowledged server id matches by id.
func isEchoOf(local, echo models.Message) bool {
	if local.Role != models.RoleAgent || local.Message != echo.Message {
		return false
	}
	return local.ID == echo.ID || withinWindow(local.Timestamp, echo.Timestamp)
}

func withinWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= DuplicateWindow
}

func sameFilenames(a, b []models.Attachment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Filename != b[i].Filename {
			return false
		}
	}
	return true
}
