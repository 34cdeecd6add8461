package server

import (
	"sync"

	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/rs/zerolog"
)

// Hub tracks which connections are subscribed to which channels. Channels
// are rooms and personal channels; a connection may hold any number.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	subs     map[*Client]map[string]struct{}
	stats    stats.StatsProvider
	log      zerolog.Logger
}

func NewHub(logger zerolog.Logger, su stats.StatsProvider) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		subs:     make(map[*Client]map[string]struct{}),
		stats:    su,
		log:      logger,
	}
}

// Register makes c reachable by PublishAll.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[c]; !ok {
		h.subs[c] = make(map[string]struct{})
	}
}

// Unregister drops c and all of its subscriptions.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range h.subs[c] {
		h.removeLocked(c, channel)
	}
	delete(h.subs, c)
}

func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[c]; !ok {
		h.subs[c] = make(map[string]struct{})
	}
	h.subs[c][channel] = struct{}{}

	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
}

func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(c, channel)
	if subs, ok := h.subs[c]; ok {
		delete(subs, channel)
	}
}

func (h *Hub) removeLocked(c *Client, channel string) {
	clients, ok := h.channels[channel]
	if !ok {
		return
	}

	delete(clients, c)
	if len(clients) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) IsSubscribed(c *Client, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.channels[channel][c]
	return ok
}

func (h *Hub) Subscribers(channel string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		clients = append(clients, c)
	}
	return clients
}

// Publish queues msg on every connection subscribed to channel and returns
// how many accepted it. A channel with no subscribers drops the message.
func (h *Hub) Publish(channel string, msg *ServerMessage) int {
	return h.send(h.Subscribers(channel), msg)
}

func (h *Hub) PublishAll(msg *ServerMessage) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.subs))
	for c := range h.subs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	return h.send(clients, msg)
}

// send never blocks. A full send buffer loses the message for that
// connection only.
func (h *Hub) send(clients []*Client, msg *ServerMessage) int {
	sent := 0
	for _, c := range clients {
		if c.queueMessage(msg) {
			sent++
			continue
		}

		h.stats.Incr(metricBroadcastDrops)
		h.log.Warn().
			Str("conn_id", c.id).
			Str("event", msg.Event).
			Msg("broadcast dropped")
	}
	return sent
}
