package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"helpdesk/internal/models"
	"helpdesk/internal/protocol"
)

const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 16 << 20 // attachments travel inline as base64

	outboxSize = 64
	eventsSize = 256
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionLost   = errors.New("connection lost before acknowledgment")
	ErrAckTimeout       = errors.New("acknowledgment timed out")
	ErrReconnectsFailed = errors.New("reconnect attempts exhausted")
)

type ClientConfig struct {
	URL               string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	AckTimeout        time.Duration
	Dialer            *websocket.Dialer
}

type outgoing struct {
	env    models.Envelope
	result chan error
}

// session is one live socket. It is replaced on every reconnect.
type session struct {
	conn   *websocket.Conn
	outbox chan outgoing
	done   chan struct{}
}

// Client owns the connection to the chat backend. Decoded events are
// delivered on Events; acknowledgments are matched to EmitWithAck callers.
type Client struct {
	cfg     ClientConfig
	log     *slog.Logger
	decoder *protocol.Decoder
	onState func(connected bool)
	events  chan protocol.Event

	mu      sync.Mutex
	sess    *session
	waiters map[string]chan models.Ack
	cancel  context.CancelFunc
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		log:     logger.With("component", "ws_client"),
		decoder: protocol.NewDecoder(),
		onState: func(bool) {},
		events:  make(chan protocol.Event, eventsSize),
		waiters: make(map[string]chan models.Ack),
	}
}

// OnState registers the lifecycle callback. Must be called before Open.
func (c *Client) OnState(fn func(connected bool)) {
	c.onState = fn
}

// Events is closed when Open returns.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Open connects and keeps the connection alive until ctx is done, Close is
// called, or every reconnect attempt in a row has failed.
func (c *Client) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	defer close(c.events)

	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			failures = 0
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("chat server connection failed", "error", err, "attempt", failures+1)

		failures++
		if failures > c.cfg.ReconnectAttempts {
			return fmt.Errorf("%w after %d tries: %v", ErrReconnectsFailed, failures, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	sess := &session{
		conn:   conn,
		outbox: make(chan outgoing, outboxSize),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.log.Info("connected to chat server", "url", c.cfg.URL)
	c.onState(true)

	defer func() {
		c.mu.Lock()
		c.sess = nil
		waiters := c.waiters
		c.waiters = make(map[string]chan models.Ack)
		c.mu.Unlock()

		close(sess.done)
		for _, w := range waiters {
			close(w)
		}
		c.onState(false)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readPump(gctx, conn)
	})
	g.Go(func() error {
		return c.writePump(gctx, sess)
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	return g.Wait()
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		ev, err := c.decoder.Decode(env)
		if err != nil && ev == nil {
			c.log.Warn("dropping inbound frame", "event", env.Event, "error", err)
			continue
		}
		if err != nil {
			c.log.Warn("malformed inbound frame", "event", env.Event, "error", err)
		}

		if ack, ok := ev.(protocol.AckEvent); ok {
			c.resolve(ack)
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) writePump(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case out := <-sess.outbox:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			err := sess.conn.WriteJSON(out.env)
			out.result <- err
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-ctx.Done():
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(WriteWait))
			return ctx.Err()
		}
	}
}

func (c *Client) resolve(ev protocol.AckEvent) {
	c.mu.Lock()
	w, ok := c.waiters[ev.ID]
	delete(c.waiters, ev.ID)
	c.mu.Unlock()

	if !ok {
		c.log.Debug("acknowledgment without waiter", "ack_id", ev.ID)
		return
	}
	w <- ev.Ack
}

// Emit writes one frame. It returns once the frame is on the wire.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	return c.emit(ctx, event, payload, "")
}

func (c *Client) emit(ctx context.Context, event string, payload any, ackID string) error {
	env, err := protocol.Encode(event, payload, ackID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	out := outgoing{env: env, result: make(chan error, 1)}
	select {
	case sess.outbox <- out:
	case <-sess.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-sess.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitWithAck emits and waits for the matching acknowledgment frame.
// A timeout is reported as ErrAckTimeout.
func (c *Client) EmitWithAck(ctx context.Context, event string, payload any) (models.Ack, error) {
	ackID := uuid.NewString()
	wait := make(chan models.Ack, 1)

	c.mu.Lock()
	c.waiters[ackID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, ackID)
		c.mu.Unlock()
	}()

	if err := c.emit(ctx, event, payload, ackID); err != nil {
		return models.Ack{}, err
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case ack, ok := <-wait:
		if !ok {
			return models.Ack{}, ErrConnectionLost
		}
		return ack, nil
	case <-timer.C:
		return models.Ack{}, fmt.Errorf("%w: %s", ErrAckTimeout, event)
	case <-ctx.Done():
		return models.Ack{}, ctx.Err()
	}
}
