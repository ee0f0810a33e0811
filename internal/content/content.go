package content

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"helpdesk/internal/models"
)

const (
	PreviewLength          = 50
	NotificationBodyLength = 100
	ellipsis               = "..."
)

var (
	policy = bluemonday.UGCPolicy()
	md     = goldmark.New(goldmark.WithExtensions(extension.Linkify))
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Truncate cuts s to limit runes and appends an ellipsis when anything was cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + ellipsis
}

// Preview is the session list line for the most recent message.
func Preview(body string, attachments []models.Attachment) string {
	if strings.TrimSpace(body) == "" && len(attachments) > 0 {
		return fmt.Sprintf("📎 %d attachment(s)", len(attachments))
	}
	return Truncate(body, PreviewLength)
}

func NotificationBody(body string) string {
	return Truncate(body, NotificationBodyLength)
}

// RenderBody turns a plain message body into safe HTML with bare URLs linked.
// Raw HTML in the body is escaped by goldmark before sanitising.
func RenderBody(body string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("failed to render message body: %w", err)
	}
	return template.HTML(Sanitize(buf.String())), nil
}
