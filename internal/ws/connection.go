package ws

import (
	"context"
	"errors"
	"sync"

	"helpdesk/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type viewerHub interface {
	Join(viewerID string) chan models.ViewUpdate
	Leave(viewerID string)
}

// Connection serves one dashboard viewer. Viewers only listen; anything
// they send is read and discarded so close frames are noticed.
type Connection struct {
	ws         wsConnection
	hub        viewerHub
	viewerID   string
	initial    []models.ViewUpdate
	fromServer chan models.ViewUpdate
	errorCh    chan error
}

func NewConnection(
	hub viewerHub,
	ws wsConnection,
	viewerID string,
	initial []models.ViewUpdate,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		viewerID:   viewerID,
		initial:    initial,
		fromServer: hub.Join(viewerID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.errorCh)
		c.hub.Leave(c.viewerID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.drain(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) drain(ctx context.Context) error {
	for {
		var discard map[string]any
		if err := c.ws.ReadJSON(&discard); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for _, u := range c.initial {
		if err := c.ws.WriteJSON(u); err != nil {
			return err
		}
	}

	for {
		select {
		case msg, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
