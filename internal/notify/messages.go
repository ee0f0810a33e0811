package notify

import "fmt"

// ConnectionRequestNotification is shown when a user escalates to a human agent.
func ConnectionRequestNotification(target Target, message string) Notification {
	body := message
	if body == "" {
		body = "Click to open chat"
	}
	return Notification{
		Title: fmt.Sprintf("%s needs assistance", target.UserName),
		Body:  body,
		Tag:   "user-" + target.UserID,
		Data:  target,
	}
}

// MessageNotification is shown for user messages in sessions that are not on screen.
func MessageNotification(target Target, body string) Notification {
	return Notification{
		Title: fmt.Sprintf("New message from %s", target.UserName),
		Body:  body,
		Tag:   "message-" + target.UserID,
		Data:  target,
	}
}
