package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"helpdesk/internal/backend"
	"helpdesk/internal/console"
	"helpdesk/internal/models"
	"helpdesk/internal/notify"
)

type consoleService interface {
	Status() console.Status
	Selected() (models.Session, bool)
	Sessions(filter models.SessionFilter) []models.Session
	Messages() (string, []models.Message)
	Select(ctx context.Context, roomID string) error
	SelectPending(ctx context.Context, target notify.Target) error
	Send(ctx context.Context, text string, attachments []models.Attachment) (models.Message, error)
	Resend(ctx context.Context, id string) (models.Message, error)
}

type notifier interface {
	RequestPermission(ctx context.Context) notify.Permission
	PublicKey() string
	Resolve(tag string) (notify.Target, error)
}

type subscriptionStore interface {
	UpsertSubscription(sub models.PushSubscription) error
}

type roomService interface {
	Rooms(ctx context.Context) ([]backend.Room, error)
	ClearHistory(ctx context.Context, roomID string) error
}

type attachmentLoader interface {
	Store(r io.Reader, filename string) (string, error)
	LoadAsync(name string, done func(models.Attachment, error))
}

type credentialSource interface {
	Credentials() (models.Credentials, error)
}

type Deps struct {
	Console       consoleService
	Notifier      notifier
	Subscriptions subscriptionStore
	Rooms         roomService
	Attachments   attachmentLoader
	Auth          credentialSource
	Logger        *slog.Logger
}

// API serves the local dashboard. All state lives in the console; handlers
// translate between HTTP and console operations.
type API struct {
	console       consoleService
	notifier      notifier
	subscriptions subscriptionStore
	rooms         roomService
	attachments   attachmentLoader
	auth          credentialSource
	log           *slog.Logger
	now           func() time.Time
	loc           *time.Location
}

func New(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		console:       d.Console,
		notifier:      d.Notifier,
		subscriptions: d.Subscriptions,
		rooms:         d.Rooms,
		attachments:   d.Attachments,
		auth:          d.Auth,
		log:           logger.With("component", "api"),
		now:           time.Now,
		loc:           time.Local,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: msg})
}

func writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: msg})
}

// statusFor maps console and backend errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, console.ErrUnknownSession), errors.Is(err, notify.ErrNoPendingSelection):
		return http.StatusNotFound
	case errors.Is(err, console.ErrNoSelection), errors.Is(err, console.ErrNotResendable):
		return http.StatusConflict
	case errors.Is(err, console.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, console.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}
