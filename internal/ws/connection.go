package ws

import (
	"context"
	"errors"
	"sync"

	"aether/internal/models"

	"github.com/google/uuid"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Connect(userID, connID string) (chan models.ServerEvent, error)
	Disconnect(userID, connID string)
	HandleEvent(userID, connID string, ev models.ClientEvent)
}

type Connection struct {
	ws         wsConnection
	hub        eventHub
	userID     string
	connID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(hub eventHub, ws wsConnection, userID string) (*Connection, error) {
	connID := uuid.NewString()
	fromServer, err := hub.Connect(userID, connID)
	if err != nil {
		return nil, err
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		connID:     connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}, nil
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnect(c.userID, c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
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

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.hub.HandleEvent(c.userID, c.connID, ev)
		case ev, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
