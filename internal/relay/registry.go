package relay

import (
	"log"
	"sync"

	"github.com/botforge/botforge/internal/stats"
)

// Registry maps a conversation id to the set of connections currently
// viewing it. It holds non-owning references: connections are created and
// torn down by the transport layer, the registry only tracks membership.
// Rooms are created on first join and discarded when the last member leaves.
//
// The membership maps are the only shared mutable state in the relay core.
// The mutex is held for map mutation only, never across a send or any
// external call.
type Registry struct {
	log   *log.Logger
	stats stats.StatsProvider

	mu      sync.Mutex
	rooms   map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}
}

func NewRegistry(logger *log.Logger, statsProvider stats.StatsProvider) *Registry {
	statsProvider.RegisterMetric(stats.ActiveRooms)
	statsProvider.RegisterMetric(stats.ActiveConnections)

	return &Registry{
		log:     logger,
		stats:   statsProvider,
		rooms:   make(map[string]map[*Client]struct{}),
		members: make(map[*Client]map[string]struct{}),
	}
}

// Join adds the connection to the conversation's room, creating the room if
// absent. Joining a room twice has no additional effect.
func (reg *Registry) Join(c *Client, conversationId string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[conversationId]
	if !ok {
		room = make(map[*Client]struct{})
		reg.rooms[conversationId] = room
		reg.stats.Incr(stats.ActiveRooms)
	}

	if _, ok := room[c]; ok {
		return
	}
	room[c] = struct{}{}

	if reg.members[c] == nil {
		reg.members[c] = make(map[string]struct{})
	}
	reg.members[c][conversationId] = struct{}{}

	reg.log.Printf("connection %s joined conversation %q", c.Id(), conversationId)
}

// Leave removes the connection from the conversation's room. Leaving a room
// never joined is a no-op. An emptied room is discarded.
func (reg *Registry) Leave(c *Client, conversationId string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.leaveLocked(c, conversationId)
}

func (reg *Registry) leaveLocked(c *Client, conversationId string) {
	room, ok := reg.rooms[conversationId]
	if !ok {
		return
	}

	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)

	if members, ok := reg.members[c]; ok {
		delete(members, conversationId)
		if len(members) == 0 {
			delete(reg.members, c)
		}
	}

	if len(room) == 0 {
		delete(reg.rooms, conversationId)
		reg.stats.Decr(stats.ActiveRooms)
		reg.log.Printf("discarded empty room %q", conversationId)
	}

	reg.log.Printf("connection %s left conversation %q", c.Id(), conversationId)
}

// Broadcast delivers the event to every connection currently in the room,
// best-effort: a full or dead connection is skipped and never affects the
// others or the caller. Membership is snapshotted under the lock and sends
// happen outside it.
func (reg *Registry) Broadcast(conversationId string, event *ServerEvent) {
	reg.mu.Lock()
	room := reg.rooms[conversationId]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	reg.mu.Unlock()

	for _, c := range clients {
		if !c.queueEvent(event) {
			reg.log.Printf("dropped %s event for connection %s", event.Event, c.Id())
		}
	}
}

// OnDisconnect removes the connection from every room it belongs to. The
// transport layer calls it exactly once per connection lifecycle end.
func (reg *Registry) OnDisconnect(c *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for conversationId := range reg.members[c] {
		reg.leaveLocked(c, conversationId)
	}
}

// RoomSize reports the current number of members in a room.
func (reg *Registry) RoomSize(conversationId string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return len(reg.rooms[conversationId])
}
