package content

import (
	"fmt"
	"html/template"
	"net/url"
	"regexp"
	"strings"
	"time"

	"helpdesk/internal/models"
)

const attachmentUnavailable = "attachment unavailable"

var (
	mimePattern   = regexp.MustCompile(`^[a-z]+/[a-z0-9.+-]+$`)
	base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)
)

type AttachmentView struct {
	Type        models.AttachmentType `json:"type"`
	Label       string                `json:"label"`
	Href        string                `json:"href,omitempty"`
	Size        string                `json:"size,omitempty"`
	Unavailable bool                  `json:"unavailable,omitempty"`
}

type MessageView struct {
	models.Message
	HTML        template.HTML    `json:"html"`
	Time        string           `json:"time"`
	Attachments []AttachmentView `json:"attachmentViews,omitempty"`
}

// DayGroup holds consecutive messages of the same calendar day.
type DayGroup struct {
	Label    string        `json:"label"`
	Messages []MessageView `json:"messages"`
}

// RenderTimeline builds the presentation of messages in loc. Stored messages are not modified.
func RenderTimeline(messages []models.Message, loc *time.Location, now time.Time) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	today := now.In(loc)

	var groups []DayGroup
	var lastY, lastD int
	var lastM time.Month
	for _, msg := range messages {
		ts := msg.Timestamp.In(loc)
		y, m, d := ts.Date()
		if len(groups) == 0 || y != lastY || m != lastM || d != lastD {
			groups = append(groups, DayGroup{Label: dayLabel(ts, today)})
			lastY, lastM, lastD = y, m, d
		}

		html, err := RenderBody(msg.Message)
		if err != nil {
			html = template.HTML(Escape(msg.Message))
		}
		view := MessageView{
			Message: msg,
			HTML:    html,
			Time:    ts.Format("15:04"),
		}
		for _, a := range msg.Attachments {
			view.Attachments = append(view.Attachments, RenderAttachment(a))
		}
		g := &groups[len(groups)-1]
		g.Messages = append(g.Messages, view)
	}
	return groups
}

func dayLabel(ts, today time.Time) string {
	ty, tm, td := today.Date()
	y, m, d := ts.Date()
	switch {
	case y == ty && m == tm && d == td:
		return "Today"
	}
	yesterday := today.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if y == yy && m == ym && d == yd {
		return "Yesterday"
	}
	return ts.Format("Monday, January 2, 2006")
}

// RenderAttachment never fails: incomplete attachments, and attachments whose
// target is not a web URL or well-formed inline data, render as a placeholder.
func RenderAttachment(a models.Attachment) AttachmentView {
	v := AttachmentView{Type: a.Type}
	switch a.Type {
	case models.AttachmentTypeImage:
		mime := a.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		switch {
		case a.Base64Data != "":
			if strings.HasPrefix(mime, "image/") {
				v.Href = dataURL(mime, a.Base64Data)
			}
		case IsWebURL(a.URL):
			v.Href = a.URL
		}
		v.Label = a.Filename
		if v.Label == "" {
			v.Label = "Image"
		}
	case models.AttachmentTypePDF:
		switch {
		case a.URL != "":
			if IsWebURL(a.URL) {
				v.Href = a.URL
			}
		case a.Base64Data != "":
			v.Href = dataURL("application/pdf", a.Base64Data)
		}
		v.Label = a.Filename
		if v.Label == "" {
			v.Label = "PDF Document"
		}
		if a.Size > 0 {
			v.Size = fmt.Sprintf("%.2f MB", float64(a.Size)/1024/1024)
		}
	case models.AttachmentTypeLink:
		if IsWebURL(a.URL) {
			v.Href = a.URL
		}
		v.Label = a.LinkText
		if v.Label == "" {
			v.Label = a.URL
		}
	}

	if v.Href == "" {
		v.Unavailable = true
		v.Label = attachmentUnavailable
	}
	return v
}

// IsWebURL reports whether raw is an absolute http or https URL.
func IsWebURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// dataURL returns "" unless mime is a plain type token and data is base64.
func dataURL(mime, data string) string {
	if !mimePattern.MatchString(mime) || !base64Pattern.MatchString(data) {
		return ""
	}
	return "data:" + mime + ";base64," + data
}
