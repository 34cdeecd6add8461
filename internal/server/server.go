package server

import (
	"context"
	"errors"
	"sync"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/rs/zerolog"
)

const (
	metricActiveConnections = "active_connections"
	metricOnlineUsers       = "online_users"
	metricMessagesDelivered = "messages_delivered"
	metricReadReceipts      = "read_receipts"
	metricBroadcastDrops    = "broadcast_drops"
)

const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 64 * 1024
)

var ErrServerClosed = errors.New("chat server closed")

type Option func(*ChatServer)

// WithSendBuffer sets how many outbound events a connection may have
// queued before further events for it are dropped.
func WithSendBuffer(n int) Option {
	return func(cs *ChatServer) {
		if n > 0 {
			cs.sendBuffer = n
		}
	}
}

func WithMaxMessageSize(n int64) Option {
	return func(cs *ChatServer) {
		if n > 0 {
			cs.maxMessageSize = n
		}
	}
}

type ChatServer struct {
	log            zerolog.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	hub            *Hub
	presence       *PresenceRegistry
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	wg             sync.WaitGroup
	closing        bool
	sendBuffer     int
	maxMessageSize int64
}

func NewChatServer(logger zerolog.Logger, db database.ChatRepository, su stats.StatsProvider, opts ...Option) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("chat server requires a repository")
	}

	for _, name := range []string{
		metricActiveConnections,
		metricOnlineUsers,
		metricMessagesDelivered,
		metricReadReceipts,
		metricBroadcastDrops,
	} {
		su.RegisterMetric(name)
	}

	hub := NewHub(logger.With().Str("component", "hub").Logger(), su)
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		hub:            hub,
		presence:       NewPresenceRegistry(hub, db, su, logger.With().Str("component", "presence").Logger()),
		clients:        make(map[*Client]struct{}),
		sendBuffer:     defaultSendBuffer,
		maxMessageSize: defaultMaxMessageSize,
	}

	for _, opt := range opts {
		opt(cs)
	}

	return cs, nil
}

func (cs *ChatServer) Presence() *PresenceRegistry {
	return cs.presence
}

// Connect admits c. A connection without a session is told to reconnect
// and stays unauthenticated; an authenticated one is bound to its user and
// joins that user's personal channel.
func (cs *ChatServer) Connect(ctx context.Context, c *Client) error {
	if err := cs.addClient(c); err != nil {
		return err
	}
	cs.stats.Incr(metricActiveConnections)

	if !c.auth.authenticated() {
		c.log.Debug().Msg("unauthenticated connection")
		c.queueMessage(newServerMessage(EventReconnectRequired, ReconnectRequired{
			Reason: ErrUnauthenticated.Error(),
		}))
		return nil
	}

	c.state.Store(stateAuthenticated)
	cs.hub.Register(c)
	c.queueMessage(newServerMessage(EventConnectionSuccess, ConnectionSuccess{
		Message: "connected",
	}))
	cs.presence.OnConnect(ctx, c.auth.UserId, c)
	cs.touchLastSeen(ctx, c.auth.UserId)

	c.log.Info().Msg("client connected")
	return nil
}

// Disconnect tears c down. Calling it again for the same connection is a
// no-op.
func (cs *ChatServer) Disconnect(ctx context.Context, c *Client) {
	if !cs.removeClient(c) {
		return
	}
	defer cs.wg.Done()

	cs.stats.Decr(metricActiveConnections)
	wasAuthenticated := c.state.Swap(stateTerminated) == stateAuthenticated

	cs.hub.Unregister(c)
	if wasAuthenticated {
		cs.presence.OnDisconnect(ctx, c.auth.UserId)
		cs.touchLastSeen(ctx, c.auth.UserId)
	}

	c.log.Info().Msg("client disconnected")
}

func (cs *ChatServer) touchLastSeen(ctx context.Context, userId int) {
	if err := cs.db.TouchLastSeen(ctx, userId, Now()); err != nil {
		cs.log.Warn().Err(err).Int("user_id", userId).Msg("touch last seen")
	}
}

// addClient checks closing under the same lock Shutdown takes, so a client
// is either stopped by Shutdown or refused here.
func (cs *ChatServer) addClient(c *Client) error {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.closing {
		return ErrServerClosed
	}
	cs.clients[c] = struct{}{}
	cs.wg.Add(1)
	return nil
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	return true
}

func (cs *ChatServer) ClientCount() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	return len(cs.clients)
}

// Shutdown stops every connection and waits for them to disconnect or for
// ctx to expire. New connections are refused once it has been called.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	cs.clientsLock.Lock()
	cs.closing = true
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
