package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	// store work for one inbound event; broadcasts after persistence are
	// not bound by it
	eventTimeout = 5 * time.Second
)

const (
	stateUnauthenticated int32 = iota
	stateAuthenticated
	stateTerminated
)

var errInvalidRoom = fmt.Errorf("%w: room does not match recipient", ErrValidation)

type Client struct {
	id       string
	conn     *websocket.Conn
	cs       *ChatServer
	log      zerolog.Logger
	auth     AuthContext
	state    atomic.Int32
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient wraps conn. A zero auth leaves the connection unauthenticated.
func NewClient(conn *websocket.Conn, cs *ChatServer, auth AuthContext, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		cs:   cs,
		log: logger.With().
			Str("conn_id", id).
			Int("user_id", auth.UserId).
			Logger(),
		auth: auth,
		send: make(chan *ServerMessage, cs.sendBuffer),
		stop: make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Str("event", msg.Event).Msg("serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(c.cs.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read message")
			}
			return
		}

		c.handleMessage(raw)
	}
}

// handleMessage decodes one inbound frame and runs it. Failures are
// reported to this connection only.
func (c *Client) handleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug().Err(err).Msg("parse message")
		c.queueMessage(ErrorMessage("invalid message format"))
		return
	}

	if c.state.Load() != stateAuthenticated {
		c.queueMessage(ErrorMessage(ErrUnauthenticated.Error()))
		return
	}

	var err error
	switch msg.Event {
	case EventJoinChat:
		err = c.joinChat(msg.Data)
	case EventUpdatePresence:
		err = c.updatePresence(msg.Data)
	case EventLeaveRoom:
		err = c.leaveRoom(msg.Data)
	case EventSendMessage:
		err = c.sendChatMessage(msg.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrValidation, msg.Event)
	}

	if err != nil {
		if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrNotFound) {
			c.log.Error().Err(err).Str("event", msg.Event).Msg("handle event")
		}
		c.queueMessage(ErrorMessage(errorMessage(err)))
	}
}

func (c *Client) joinChat(data json.RawMessage) error {
	var p JoinChat
	if err := decodePayload(data, &p); err != nil {
		return err
	}

	room := RoomName(c.auth.UserId, p.RecipientId)
	if p.Room != "" && p.Room != room {
		return errInvalidRoom
	}

	c.cs.presence.SetViewingRoom(c.auth.UserId, c, room)
	c.queueMessage(newServerMessage(EventRoomJoined, RoomJoined{Room: room}))
	return nil
}

func (c *Client) updatePresence(data json.RawMessage) error {
	var p UpdatePresence
	if err := decodePayload(data, &p); err != nil {
		return err
	}

	c.cs.presence.SetViewingRoom(c.auth.UserId, c, RoomName(c.auth.UserId, p.RecipientId))
	return nil
}

func (c *Client) leaveRoom(data json.RawMessage) error {
	var p LeaveRoom
	if err := decodePayload(data, &p); err != nil {
		return err
	}

	c.cs.presence.LeaveRoom(c.auth.UserId, c, p.Room)
	return nil
}

func (c *Client) sendChatMessage(data json.RawMessage) error {
	var p SendMessage
	if err := decodePayload(data, &p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	_, err := c.cs.deliver(ctx, c.auth, DeliveryRequest{
		RecipientId: p.RecipientId,
		Content:     p.Content,
		FileIds:     p.FileIds,
		TempId:      p.TempId,
	}, c)
	return err
}

// queueMessage never blocks; it reports false when the send buffer is full
// or the connection is gone.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	if c.state.Load() == stateTerminated {
		return false
	}

	select {
	case c.send <- msg:
	default:
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	c.cs.Disconnect(ctx, c)
	c.stopClient()
}
