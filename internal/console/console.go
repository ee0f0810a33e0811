// Package console reconciles the backend event stream into the session list
// and the timeline of the selected session.
//
// Console is the single authoritative state container: every event and every
// operator action takes the same lock, reads the current selection and
// applies its change before any side effect (emission, notification, view
// update) runs outside the lock.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"helpdesk/internal/content"
	"helpdesk/internal/models"
	"helpdesk/internal/notify"
	"helpdesk/internal/protocol"
)

const DefaultHistoryLimit = 100

var (
	ErrTransportUnavailable = errors.New("not connected to chat server")
	ErrNoSelection          = errors.New("no session selected")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrUnknownSession       = errors.New("unknown session")
	ErrNotResendable        = errors.New("message cannot be resent")
)

// Transport is the outbound side of the backend connection.
type Transport interface {
	Emit(ctx context.Context, event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (models.Ack, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

type Config struct {
	HistoryLimit int
	AgentName    string
}

type historyRequest struct {
	roomID     string
	generation uint64
}

type Console struct {
	cfg       Config
	transport Transport
	notifier  Notifier
	onChange  func(models.ViewUpdate)
	log       *slog.Logger
	now       func() time.Time
	newID     func() string

	// selectMu orders selections so history requests are queued in emission order.
	selectMu sync.Mutex

	mu         sync.Mutex
	state      models.ConsoleState
	connected  bool
	registry   *Registry
	timeline   *Timeline
	selected   string
	generation uint64
	history    []historyRequest
	pending    string

	wg sync.WaitGroup
}

func New(cfg Config, transport Transport, notifier Notifier, logger *slog.Logger) *Console {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		cfg:       cfg,
		transport: transport,
		notifier:  notifier,
		onChange:  func(models.ViewUpdate) {},
		log:       logger.With("component", "console"),
		now:       time.Now,
		newID:     func() string { return "tmp-" + uuid.NewString() },
		state:     models.ConsoleStateLoading,
		registry:  NewRegistry(),
		timeline:  NewTimeline(),
	}
}

// OnChange registers the receiver of view updates. Must be called before events flow.
func (c *Console) OnChange(fn func(models.ViewUpdate)) {
	c.onChange = fn
}

// effects are collected under the lock and run after it is released.
type effects struct {
	updates []models.ViewUpdate
	notes   []notify.Notification
	sel     string
}

func (e *effects) sessions(c *Console) {
	e.updates = append(e.updates, models.ViewUpdate{
		Type:     models.ViewUpdateSessions,
		Sessions: c.registry.List(models.SessionFilterAll),
	})
}

func (e *effects) messages(c *Console) {
	e.updates = append(e.updates, models.ViewUpdate{
		Type:     models.ViewUpdateMessages,
		RoomID:   c.selected,
		Messages: c.timeline.Messages(),
	})
}

func (e *effects) status(c *Console) {
	e.updates = append(e.updates, models.ViewUpdate{
		Type:  models.ViewUpdateStatus,
		State: c.state,
	})
}

func (c *Console) flush(ctx context.Context, fx *effects) {
	for _, u := range fx.updates {
		c.onChange(u)
	}
	for _, n := range fx.notes {
		c.notifyAsync(ctx, n)
	}
	if fx.sel != "" {
		if err := c.Select(ctx, fx.sel); err != nil {
			c.log.Warn("pending selection failed", "room_id", fx.sel, "error", err)
		}
	}
}

func (c *Console) notifyAsync(ctx context.Context, n notify.Notification) {
	if c.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.wg.Go(func() {
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.log.Warn("notification failed", "tag", n.Tag, "error", err)
		}
	})
}

// Apply folds one decoded backend event into the state.
func (c *Console) Apply(ctx context.Context, ev protocol.Event) {
	var fx effects

	c.mu.Lock()
	switch ev := ev.(type) {
	case protocol.Connected:
		c.state = models.ConsoleStateReady
		fx.status(c)

	case protocol.ActiveSessions:
		c.registry.ApplySnapshot(ev.Sessions)
		fx.sessions(c)

	case protocol.ConnectionRequest:
		c.registry.ApplyConnectionRequest(ev)
		fx.sessions(c)
		fx.notes = append(fx.notes, notify.ConnectionRequestNotification(notify.Target{
			UserID:   ev.UserID,
			RoomID:   ev.RoomID,
			UserName: ev.UserName,
		}, ev.Message))

	case protocol.ChatHistory:
		if c.acceptHistory(ev) {
			if ev.Success {
				c.timeline.LoadHistory(ev.Messages)
			} else {
				c.timeline.Clear()
			}
			fx.messages(c)
		}

	case protocol.UserMessage:
		isSelected := c.selected == ev.RoomID
		if isSelected && c.timeline.Append(ev.Message) {
			fx.messages(c)
		} else if isSelected {
			c.log.Debug("duplicate user message skipped", "room_id", ev.RoomID)
		}
		c.registry.ApplyInboundMessage(ev, isSelected)
		fx.sessions(c)
		if !isSelected {
			name := ev.Message.UserName
			if s, ok := c.registry.Get(ev.RoomID); ok {
				name = s.UserName
			}
			fx.notes = append(fx.notes, notify.MessageNotification(notify.Target{
				UserID:   ev.UserID,
				RoomID:   ev.RoomID,
				UserName: name,
			}, content.NotificationBody(content.Preview(ev.Message.Message, ev.Message.Attachments))))
		}

	case protocol.AssistantMessage:
		if s, ok := c.registry.Get(ev.RoomID); ok && s.AgentMode {
			c.log.Debug("assistant reply suppressed, agent mode", "room_id", ev.RoomID)
			break
		}
		if c.selected == ev.RoomID && c.timeline.Append(ev.Message) {
			fx.messages(c)
		}
		if c.registry.ApplyAssistantMessage(ev) {
			fx.sessions(c)
		}

	case protocol.AgentEcho:
		if c.selected == ev.RoomID {
			c.timeline.ApplyAgentEcho(ev.Message, ev.ServerID)
			fx.messages(c)
		}
		if c.registry.ApplyAgentMessage(ev.RoomID, ev.Message) {
			fx.sessions(c)
		}

	case protocol.MessageSent:
		c.log.Debug("message delivered", "room_id", ev.RoomID, "message_id", ev.MessageID)

	default:
		c.log.Debug("event ignored", "event", ev.EventName())
	}

	if c.pending != "" {
		if _, ok := c.registry.Get(c.pending); ok {
			fx.sel = c.pending
			c.pending = ""
		}
	}
	c.mu.Unlock()

	c.flush(ctx, &fx)
}

// acceptHistory consumes the outstanding history request ev answers and
// reports whether it still belongs to the current selection. A response
// naming its room answers that room's oldest request; requests queued
// before it lost their response and are dropped with it.
func (c *Console) acceptHistory(ev protocol.ChatHistory) bool {
	idx := 0
	if ev.RoomID != "" {
		idx = slices.IndexFunc(c.history, func(r historyRequest) bool { return r.roomID == ev.RoomID })
	}
	if idx < 0 || len(c.history) == 0 {
		c.log.Warn("unsolicited chat history dropped", "room_id", ev.RoomID)
		return false
	}
	req := c.history[idx]
	c.history = c.history[idx+1:]

	if req.generation != c.generation {
		c.log.Info("stale chat history dropped", "room_id", req.roomID, "selected", c.selected)
		return false
	}
	return true
}

// SetConnected records transport lifecycle changes. Outstanding history
// requests die with the connection that carried them.
func (c *Console) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	if !connected {
		c.history = nil
	}
	var fx effects
	fx.status(c)
	c.mu.Unlock()

	c.flush(context.Background(), &fx)
}

// Select makes roomID the active session, marks it read, joins the room
// and requests its history.
func (c *Console) Select(ctx context.Context, roomID string) error {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	var fx effects
	c.mu.Lock()
	if _, ok := c.registry.Get(roomID); !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, roomID)
	}
	c.selected = roomID
	c.generation++
	gen := c.generation
	c.registry.MarkRead(roomID)
	connected := c.connected
	if connected {
		c.history = append(c.history, historyRequest{roomID: roomID, generation: gen})
	}
	fx.sessions(c)
	c.mu.Unlock()

	c.flush(ctx, &fx)

	if !connected {
		c.log.Warn("selected session while disconnected", "room_id", roomID)
		return nil
	}

	if err := c.transport.Emit(ctx, models.EmitJoinSession, models.JoinSessionRequest{RoomID: roomID}); err != nil {
		c.dropHistoryRequest(gen)
		return fmt.Errorf("failed to join session: %w", err)
	}
	if err := c.transport.Emit(ctx, models.EmitGetHistory, models.HistoryRequest{RoomID: roomID, Limit: c.cfg.HistoryLimit}); err != nil {
		c.dropHistoryRequest(gen)
		return fmt.Errorf("failed to request history: %w", err)
	}
	return nil
}

func (c *Console) dropHistoryRequest(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, req := range c.history {
		if req.generation == gen {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return
		}
	}
}

// SelectPending opens target now when its session is known, otherwise as soon as it appears.
func (c *Console) SelectPending(ctx context.Context, target notify.Target) error {
	c.mu.Lock()
	_, known := c.registry.Get(target.RoomID)
	if !known {
		c.pending = target.RoomID
	}
	c.mu.Unlock()

	if !known {
		c.log.Info("selection deferred until session appears", "room_id", target.RoomID)
		return nil
	}
	return c.Select(ctx, target.RoomID)
}

// Send appends an optimistic agent message and emits it. Delivery is
// confirmed or failed asynchronously by the acknowledgment.
func (c *Console) Send(ctx context.Context, text string, attachments []models.Attachment) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}
	if text == "" {
		text = "Attachment"
	}

	var fx effects
	c.mu.Lock()
	if c.selected == "" {
		c.mu.Unlock()
		return models.Message{}, ErrNoSelection
	}
	if !c.connected {
		c.mu.Unlock()
		c.alert(ErrTransportUnavailable.Error())
		return models.Message{}, ErrTransportUnavailable
	}

	roomID := c.selected
	msg := models.Message{
		ID:          c.newID(),
		Message:     text,
		Role:        models.RoleAgent,
		Timestamp:   c.now(),
		Attachments: attachments,
		AgentName:   c.cfg.AgentName,
		Status:      models.MessageStatusPending,
	}
	c.timeline.AppendOptimistic(msg)
	c.registry.ApplyAgentMessage(roomID, msg)
	fx.messages(c)
	fx.sessions(c)
	c.mu.Unlock()

	c.flush(ctx, &fx)
	c.deliver(ctx, roomID, msg)
	return msg, nil
}

// Resend re-emits a message whose delivery failed.
func (c *Console) Resend(ctx context.Context, id string) (models.Message, error) {
	var fx effects
	c.mu.Lock()
	msg, ok := c.timeline.Get(id)
	if !ok || msg.Status != models.MessageStatusFailed {
		c.mu.Unlock()
		return models.Message{}, fmt.Errorf("%w: %s", ErrNotResendable, id)
	}
	if !c.connected {
		c.mu.Unlock()
		c.alert(ErrTransportUnavailable.Error())
		return models.Message{}, ErrTransportUnavailable
	}
	roomID := c.selected
	msg, _ = c.timeline.Retry(id, c.now())
	c.registry.ApplyAgentMessage(roomID, msg)
	fx.messages(c)
	fx.sessions(c)
	c.mu.Unlock()

	c.flush(ctx, &fx)
	c.deliver(ctx, roomID, msg)
	return msg, nil
}

func (c *Console) deliver(ctx context.Context, roomID string, msg models.Message) {
	req := models.AgentMessageRequest{
		Message:     msg.Message,
		RoomID:      roomID,
		Role:        models.RoleAgent,
		AgentName:   msg.AgentName,
		Attachments: msg.Attachments,
	}
	if req.Attachments == nil {
		req.Attachments = []models.Attachment{}
	}

	ctx = context.WithoutCancel(ctx)
	c.wg.Go(func() {
		ack, err := c.transport.EmitWithAck(ctx, models.EmitAgentMessage, req)
		switch {
		case err != nil:
			c.log.Error("agent message not delivered", "room_id", roomID, "message_id", msg.ID, "error", err)
			c.settle(msg.ID, "", false)
			c.alert(fmt.Sprintf("Message not delivered: %v", err))
		case !ack.Success:
			c.log.Error("agent message rejected", "room_id", roomID, "message_id", msg.ID, "error", ack.Error)
			c.settle(msg.ID, "", false)
		default:
			c.settle(msg.ID, ack.MessageID, true)
		}
	})
}

func (c *Console) settle(id, serverID string, ok bool) {
	var fx effects
	c.mu.Lock()
	var changed bool
	if ok {
		changed = c.timeline.Confirm(id, serverID)
	} else {
		changed = c.timeline.SetStatus(id, models.MessageStatusFailed)
	}
	if changed {
		fx.messages(c)
	}
	c.mu.Unlock()

	c.flush(context.Background(), &fx)
}

func (c *Console) alert(text string) {
	c.onChange(models.ViewUpdate{Type: models.ViewUpdateAlert, Message: text})
}

// Wait blocks until in-flight deliveries and notifications are done.
func (c *Console) Wait() {
	c.wg.Wait()
}

type Status struct {
	State     models.ConsoleState `json:"state"`
	Connected bool                `json:"connected"`
	Selected  string              `json:"selected,omitempty"`
}

func (c *Console) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Connected: c.connected, Selected: c.selected}
}

// Selected returns the active session, if any.
func (c *Console) Selected() (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == "" {
		return models.Session{}, false
	}
	return c.registry.Get(c.selected)
}

func (c *Console) Sessions(filter models.SessionFilter) []models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List(filter)
}

func (c *Console) Session(roomID string) (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Get(roomID)
}

// Messages returns the timeline of the selected session.
func (c *Console) Messages() (string, []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.timeline.Messages()
}

// Snapshot is what a newly attached viewer needs to render the current state.
func (c *Console) Snapshot() []models.ViewUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fx effects
	fx.status(c)
	fx.sessions(c)
	if c.selected != "" {
		fx.messages(c)
	}
	return fx.updates
}
