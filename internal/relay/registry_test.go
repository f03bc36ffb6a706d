package relay

import (
	"testing"

	"github.com/botforge/botforge/internal/stats"
	"github.com/botforge/botforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestStats(t *testing.T) *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(testutil.TestLogger(t), newTestStats(t))
}

func newTestClient(t *testing.T, reg *Registry) *Client {
	return &Client{
		id:       "test-conn-" + t.Name(),
		registry: reg,
		stats:    newTestStats(t),
		log:      testutil.TestLogger(t),
		send:     make(chan *ServerEvent, 16),
		stop:     make(chan struct{}),
	}
}

// drainEvents returns everything queued for the client so far.
func drainEvents(c *Client) []*ServerEvent {
	var events []*ServerEvent
	for {
		select {
		case event := <-c.send:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	c := newTestClient(t, reg)

	reg.Join(c, "conv1")
	reg.Join(c, "conv1")

	assert.Equal(t, 1, reg.RoomSize("conv1"), "expected joining twice to equal joining once")

	reg.Broadcast("conv1", TypingStartEvent())
	assert.Len(t, drainEvents(c), 1, "expected exactly one delivery despite double join")
}

func TestRegistryLeave(t *testing.T) {
	t.Run("removes member and discards empty room", func(t *testing.T) {
		reg := newTestRegistry(t)
		c := newTestClient(t, reg)

		reg.Join(c, "conv1")
		reg.Leave(c, "conv1")

		assert.Equal(t, 0, reg.RoomSize("conv1"), "expected room to be empty after leave")
		assert.NotContains(t, reg.rooms, "conv1", "expected empty room to be discarded")
		assert.NotContains(t, reg.members, c, "expected member index entry to be removed")
	})

	t.Run("leaving a room never joined is a no-op", func(t *testing.T) {
		reg := newTestRegistry(t)
		c := newTestClient(t, reg)
		other := newTestClient(t, reg)

		reg.Join(other, "conv1")
		reg.Leave(c, "conv1")

		assert.Equal(t, 1, reg.RoomSize("conv1"), "expected existing membership to be untouched")
	})
}

func TestRegistryBroadcast(t *testing.T) {
	reg := newTestRegistry(t)
	member1 := newTestClient(t, reg)
	member2 := newTestClient(t, reg)
	outsider := newTestClient(t, reg)

	reg.Join(member1, "conv1")
	reg.Join(member2, "conv1")
	reg.Join(outsider, "conv2")

	reg.Broadcast("conv1", TypingStartEvent())

	assert.Len(t, drainEvents(member1), 1, "expected member1 to receive the event")
	assert.Len(t, drainEvents(member2), 1, "expected member2 to receive the event")
	assert.Empty(t, drainEvents(outsider), "expected outsider to receive nothing")
}

func TestRegistryBroadcastFullQueue(t *testing.T) {
	reg := newTestRegistry(t)
	full := newTestClient(t, reg)
	full.send = make(chan *ServerEvent) // unbuffered, nothing draining it
	healthy := newTestClient(t, reg)

	reg.Join(full, "conv1")
	reg.Join(healthy, "conv1")

	// a member with a full queue must not block delivery to the others
	reg.Broadcast("conv1", TypingStartEvent())

	assert.Len(t, drainEvents(healthy), 1, "expected healthy member to receive event despite full peer")
}

func TestRegistryOnDisconnect(t *testing.T) {
	reg := newTestRegistry(t)
	c := newTestClient(t, reg)
	peer := newTestClient(t, reg)

	reg.Join(c, "conv1")
	reg.Join(c, "conv2")
	reg.Join(peer, "conv1")

	reg.OnDisconnect(c)

	assert.Equal(t, 1, reg.RoomSize("conv1"), "expected disconnected client removed from conv1")
	assert.Equal(t, 0, reg.RoomSize("conv2"), "expected disconnected client removed from conv2")
	assert.NotContains(t, reg.members, c, "expected member index entry to be removed")

	reg.Broadcast("conv1", TypingStartEvent())
	reg.Broadcast("conv2", TypingStartEvent())

	assert.Empty(t, drainEvents(c), "expected no deliveries after disconnect")
	assert.Len(t, drainEvents(peer), 1, "expected remaining member to still receive events")
}
