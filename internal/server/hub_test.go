package server

import (
	"testing"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/npezzotti/go-dirchat/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHubSubscriptions(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, &database.MockChatRepository{}, su)
	hub := NewHub(testutil.TestLogger(t), su)

	c1 := newTestClient(t, cs, 1)
	c2 := newTestClient(t, cs, 2)

	hub.Register(c1)
	hub.Subscribe(c1, "chat_1_2")
	hub.Subscribe(c2, "chat_1_2")
	hub.Subscribe(c2, "user_2")

	assert.True(t, hub.IsSubscribed(c1, "chat_1_2"))
	assert.ElementsMatch(t, []*Client{c1, c2}, hub.Subscribers("chat_1_2"))

	hub.Unsubscribe(c1, "chat_1_2")
	assert.False(t, hub.IsSubscribed(c1, "chat_1_2"))
	assert.Equal(t, []*Client{c2}, hub.Subscribers("chat_1_2"))

	hub.Unregister(c2)
	assert.Empty(t, hub.Subscribers("chat_1_2"))
	assert.Empty(t, hub.Subscribers("user_2"))
	assert.NotContains(t, hub.channels, "chat_1_2", "expected empty channel to be removed")
}

func TestHubPublish(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, &database.MockChatRepository{}, su)
	hub := NewHub(testutil.TestLogger(t), su)

	c1 := newTestClient(t, cs, 1)
	c2 := newTestClient(t, cs, 2)
	outsider := newTestClient(t, cs, 3)
	for _, c := range []*Client{c1, c2, outsider} {
		hub.Register(c)
	}
	hub.Subscribe(c1, "chat_1_2")
	hub.Subscribe(c2, "chat_1_2")

	sent := hub.Publish("chat_1_2", ErrorMessage("hello"))
	assert.Equal(t, 2, sent)
	assert.Len(t, drain(c1), 1)
	assert.Len(t, drain(c2), 1)
	assert.Empty(t, drain(outsider), "expected no event outside the channel")

	assert.Equal(t, 0, hub.Publish("chat_5_6", ErrorMessage("nobody")), "expected publish to empty channel to be dropped")

	assert.Equal(t, 3, hub.PublishAll(ErrorMessage("everyone")))
	for _, c := range []*Client{c1, c2, outsider} {
		assert.Len(t, drain(c), 1)
	}
}

func TestHubPublishFullBuffer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", metricBroadcastDrops).Once()
	cs := newTestChatServer(t, &database.MockChatRepository{}, su)
	hub := NewHub(testutil.TestLogger(t), su)

	slow := newTestClient(t, cs, 1)
	slow.send = make(chan *ServerMessage, 1)
	fast := newTestClient(t, cs, 2)
	hub.Subscribe(slow, "chat_1_2")
	hub.Subscribe(fast, "chat_1_2")

	slow.send <- ErrorMessage("backlog")

	sent := hub.Publish("chat_1_2", ErrorMessage("hello"))
	assert.Equal(t, 1, sent, "expected only the connection with room to receive the event")
	assert.Len(t, drain(fast), 1)
	su.AssertExpectations(t)
}
