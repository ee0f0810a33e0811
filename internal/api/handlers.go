package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"helpdesk/internal/attachments"
	"helpdesk/internal/content"
	"helpdesk/internal/models"
	"helpdesk/internal/notify"
)

const maxUploadBody = 12 << 20

type StatusResponse struct {
	State      models.ConsoleState `json:"state"`
	Connected  bool                `json:"connected"`
	Selected   string              `json:"selected,omitempty"`
	Admin      models.Admin        `json:"admin"`
	Permission notify.Permission   `json:"permission"`
}

func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	st := a.console.Status()
	resp := StatusResponse{
		State:      st.State,
		Connected:  st.Connected,
		Selected:   st.Selected,
		Permission: a.notifier.RequestPermission(r.Context()),
	}
	if creds, err := a.auth.Credentials(); err == nil {
		resp.Admin = creds.Admin
		resp.Admin.FullName = creds.Admin.DisplayName()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.SessionFilter(r.URL.Query().Get("filter"))
	switch filter {
	case "":
		filter = models.SessionFilterActive
	case models.SessionFilterActive, models.SessionFilterAll:
	default:
		writeError(w, http.StatusBadRequest, "filter must be active or all")
		return
	}

	sessions := a.console.Sessions(filter)
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.rooms.Rooms(r.Context())
	if err != nil {
		a.log.Warn("failed to list rooms", "error", err)
		writeError(w, statusFor(err), fmt.Sprintf("Failed to list rooms: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (a *API) SelectHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if err := a.console.Select(r.Context(), roomID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeOK(w, fmt.Sprintf("Session %s selected", roomID))
}

type MessagesResponse struct {
	RoomID  string             `json:"roomId"`
	Session *models.Session    `json:"session,omitempty"`
	Days    []content.DayGroup `json:"days"`
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	roomID, messages := a.console.Messages()
	resp := MessagesResponse{
		RoomID: roomID,
		Days:   content.RenderTimeline(messages, a.loc, a.now()),
	}
	if s, ok := a.console.Selected(); ok {
		resp.Session = &s
	}
	if resp.Days == nil {
		resp.Days = []content.DayGroup{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AttachmentRequest names either an uploaded file or a link.
type AttachmentRequest struct {
	File     string `json:"file,omitempty"`
	URL      string `json:"url,omitempty"`
	LinkText string `json:"linkText,omitempty"`
}

type SendRequest struct {
	Message     string              `json:"message"`
	Attachments []AttachmentRequest `json:"attachments,omitempty"`
}

type SendResponse struct {
	Success bool           `json:"success"`
	Message models.Message `json:"message"`
}

func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	atts, err := a.resolveAttachments(req.Attachments)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, attachments.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}

	msg, err := a.console.Send(r.Context(), req.Message, atts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SendResponse{Success: true, Message: msg})
}

// resolveAttachments loads every referenced file concurrently and keeps
// the request order.
func (a *API) resolveAttachments(reqs []AttachmentRequest) ([]models.Attachment, error) {
	type result struct {
		i   int
		a   models.Attachment
		err error
	}

	out := make([]models.Attachment, len(reqs))
	results := make(chan result, len(reqs))
	pending := 0
	for i, req := range reqs {
		switch {
		case req.File != "":
			pending++
			a.attachments.LoadAsync(req.File, func(att models.Attachment, err error) {
				results <- result{i: i, a: att, err: err}
			})
		case req.URL != "":
			link, err := attachments.Link(req.URL, req.LinkText)
			if err != nil {
				return nil, err
			}
			out[i] = link
		default:
			return nil, fmt.Errorf("attachment %d: file or url is required", i)
		}
	}

	var errs []error
	for ; pending > 0; pending-- {
		res := <-results
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		out[res.i] = res.a
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) ResendHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := a.console.Resend(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SendResponse{Success: true, Message: msg})
}

type UploadResponse struct {
	Success bool   `json:"success"`
	File    string `json:"file"`
}

func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer f.Close()

	name, err := a.attachments.Store(f, header.Filename)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, attachments.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{Success: true, File: name})
}

// ClearHistoryHandler deletes a room's history on the backend and reloads
// the timeline when that room is on screen.
func (a *API) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if err := a.rooms.ClearHistory(r.Context(), roomID); err != nil {
		a.log.Warn("failed to clear history", "room_id", roomID, "error", err)
		writeError(w, statusFor(err), fmt.Sprintf("Failed to clear history: %v", err))
		return
	}

	if s, ok := a.console.Selected(); ok && s.RoomID == roomID {
		if err := a.console.Select(r.Context(), roomID); err != nil {
			a.log.Warn("failed to reload history", "room_id", roomID, "error", err)
		}
	}
	writeOK(w, fmt.Sprintf("History of %s cleared", roomID))
}

func (a *API) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		writeError(w, http.StatusBadRequest, "endpoint and keys are required")
		return
	}
	if err := a.subscriptions.UpsertSubscription(sub); err != nil {
		a.log.Error("failed to store push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store subscription")
		return
	}
	writeOK(w, "Subscribed")
}

func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": a.notifier.PublicKey()})
}

// NotificationOpenHandler turns a notification click into a selection.
func (a *API) NotificationOpenHandler(w http.ResponseWriter, r *http.Request) {
	target, err := a.notifier.Resolve(r.PathValue("tag"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := a.console.SelectPending(r.Context(), target); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, target)
}
