package server

import (
	"context"
	"sort"
	"sync"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/npezzotti/go-dirchat/internal/types"
	"github.com/rs/zerolog"
)

type presenceEntry struct {
	client *Client
	room   string
}

// PresenceRegistry records, per user, the connection they were last seen
// on and the room they are currently looking at. A user has at most one
// entry; a second connection replaces the first.
type PresenceRegistry struct {
	mu      sync.Mutex
	entries map[int]*presenceEntry
	hub     *Hub
	db      database.ChatRepository
	stats   stats.StatsProvider
	log     zerolog.Logger
}

func NewPresenceRegistry(hub *Hub, db database.ChatRepository, su stats.StatsProvider, logger zerolog.Logger) *PresenceRegistry {
	return &PresenceRegistry{
		entries: make(map[int]*presenceEntry),
		hub:     hub,
		db:      db,
		stats:   su,
		log:     logger,
	}
}

// OnConnect registers c as the user's connection with no room, subscribes
// it to the user's personal channel and broadcasts the new online set.
func (p *PresenceRegistry) OnConnect(ctx context.Context, userId int, c *Client) {
	p.mu.Lock()
	_, existed := p.entries[userId]
	p.entries[userId] = &presenceEntry{client: c}
	p.mu.Unlock()

	if !existed {
		p.stats.Incr(metricOnlineUsers)
	}

	p.hub.Subscribe(c, PersonalChannel(userId))
	p.broadcast(ctx)
}

// OnDisconnect removes the user's entry whichever connection it points at.
func (p *PresenceRegistry) OnDisconnect(ctx context.Context, userId int) {
	p.mu.Lock()
	_, existed := p.entries[userId]
	delete(p.entries, userId)
	p.mu.Unlock()

	if existed {
		p.stats.Decr(metricOnlineUsers)
	}

	p.broadcast(ctx)
}

// SetViewingRoom marks room as the user's current room, creating the entry
// for c if the user has none, and subscribes c to room.
func (p *PresenceRegistry) SetViewingRoom(userId int, c *Client, room string) {
	p.mu.Lock()
	entry, ok := p.entries[userId]
	if !ok {
		entry = &presenceEntry{client: c}
		p.entries[userId] = entry
	}
	entry.room = room
	p.mu.Unlock()

	if !ok {
		p.stats.Incr(metricOnlineUsers)
	}

	p.hub.Subscribe(c, room)
}

// LeaveRoom unsubscribes c from room. The user stops viewing room if it
// was their current one.
func (p *PresenceRegistry) LeaveRoom(userId int, c *Client, room string) {
	p.mu.Lock()
	if entry, ok := p.entries[userId]; ok && entry.room == room {
		entry.room = ""
	}
	p.mu.Unlock()

	p.hub.Unsubscribe(c, room)
}

// IsViewing reports whether the user is registered and currently looking
// at room. Being online is not enough.
func (p *PresenceRegistry) IsViewing(userId int, room string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[userId]
	return ok && entry.room != "" && entry.room == room
}

func (p *PresenceRegistry) IsRegistered(userId int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[userId]
	return ok
}

// OnlineIds returns the registered user ids in ascending order.
func (p *PresenceRegistry) OnlineIds() []int {
	p.mu.Lock()
	ids := make([]int, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	sort.Ints(ids)
	return ids
}

// Snapshot resolves every registered user against the store. Users the
// store no longer knows are left out.
func (p *PresenceRegistry) Snapshot(ctx context.Context) (OnlineUsers, error) {
	ids := p.OnlineIds()

	snapshot := OnlineUsers{
		Users:     []types.OnlineUser{},
		OnlineIds: []int{},
	}
	if len(ids) == 0 {
		return snapshot, nil
	}

	users, err := p.db.GetUsersByIds(ctx, ids)
	if err != nil {
		return OnlineUsers{}, err
	}

	for _, u := range users {
		snapshot.Users = append(snapshot.Users, types.OnlineUser{
			Id:         u.Id,
			Username:   u.Username,
			Fullname:   u.Fullname,
			Department: u.Department,
			Position:   u.Position,
		})
		snapshot.OnlineIds = append(snapshot.OnlineIds, u.Id)
	}

	return snapshot, nil
}

func (p *PresenceRegistry) broadcast(ctx context.Context) {
	snapshot, err := p.Snapshot(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("online users snapshot")
		return
	}

	p.hub.PublishAll(newServerMessage(EventOnlineUsers, snapshot))
}
