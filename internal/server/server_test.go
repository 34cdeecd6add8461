package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/npezzotti/go-dirchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = database.User{Id: 1, Username: "alice", Fullname: "Alice Anders", Department: "IT", Position: "Engineer", IsActive: true}
	bob   = database.User{Id: 2, Username: "bob", Fullname: "Bob Brown", Department: "HR", Position: "Manager", IsActive: true}
)

func newTestChatServer(t *testing.T, db database.ChatRepository, su *stats.MockStatsUpdater) *ChatServer {
	t.Helper()

	su.On("RegisterMetric", mock.Anything)
	cs, err := NewChatServer(testutil.TestLogger(t), db, su, WithSendBuffer(16))
	require.NoError(t, err, "expected no error creating chat server")

	return cs
}

// newTestClient returns a connection without a socket. Events queued for it
// stay in its send buffer.
func newTestClient(t *testing.T, cs *ChatServer, userId int) *Client {
	t.Helper()

	c := &Client{
		id:   "conn-" + t.Name(),
		cs:   cs,
		log:  testutil.TestLogger(t),
		auth: AuthContext{UserId: userId},
		send: make(chan *ServerMessage, 16),
		stop: make(chan struct{}),
	}
	if userId > 0 {
		c.state.Store(stateAuthenticated)
	}
	return c
}

// drain empties c's send buffer.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func events(msgs []*ServerMessage) []string {
	names := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		names = append(names, msg.Event)
	}
	return names
}

func TestNewChatServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, &database.MockChatRepository{}, su)

	for _, name := range []string{
		metricActiveConnections,
		metricOnlineUsers,
		metricMessagesDelivered,
		metricReadReceipts,
		metricBroadcastDrops,
	} {
		su.AssertCalled(t, "RegisterMetric", name)
	}
	assert.Equal(t, 16, cs.sendBuffer)
	assert.Equal(t, int64(defaultMaxMessageSize), cs.maxMessageSize)

	_, err := NewChatServer(testutil.TestLogger(t), nil, su)
	assert.Error(t, err, "expected error without a repository")
}

func TestConnect(t *testing.T) {
	t.Run("unauthenticated connection is told to reconnect", func(t *testing.T) {
		db := &database.MockChatRepository{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", metricActiveConnections).Once()
		cs := newTestChatServer(t, db, su)
		c := newTestClient(t, cs, 0)

		require.NoError(t, cs.Connect(context.Background(), c))

		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, EventReconnectRequired, msgs[0].Event)
		assert.Equal(t, ReconnectRequired{Reason: "authentication required"}, msgs[0].Data)
		assert.Equal(t, stateUnauthenticated, c.state.Load())
		assert.False(t, cs.presence.IsRegistered(0))
		assert.Equal(t, 1, cs.ClientCount())
		db.AssertExpectations(t)
		su.AssertExpectations(t)
	})

	t.Run("authenticated connection joins its personal channel", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetUsersByIds", mock.Anything, []int{1}).Return([]database.User{alice}, nil)
		db.On("TouchLastSeen", mock.Anything, 1, mock.AnythingOfType("time.Time")).Return(nil)
		su := &stats.MockStatsUpdater{}
		su.On("Incr", metricActiveConnections).Once()
		su.On("Incr", metricOnlineUsers).Once()
		cs := newTestChatServer(t, db, su)
		c := newTestClient(t, cs, 0)
		c.auth = AuthContext{UserId: 1}

		require.NoError(t, cs.Connect(context.Background(), c))

		msgs := drain(c)
		assert.Equal(t, []string{EventConnectionSuccess, EventOnlineUsers}, events(msgs))
		snapshot, ok := msgs[1].Data.(OnlineUsers)
		require.True(t, ok)
		assert.Equal(t, []int{1}, snapshot.OnlineIds)
		assert.Equal(t, stateAuthenticated, c.state.Load())
		assert.True(t, cs.presence.IsRegistered(1))
		assert.True(t, cs.hub.IsSubscribed(c, PersonalChannel(1)))
		db.AssertExpectations(t)
		su.AssertExpectations(t)
	})

	t.Run("last seen failure does not reject the connection", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetUsersByIds", mock.Anything, []int{1}).Return([]database.User{alice}, nil)
		db.On("TouchLastSeen", mock.Anything, 1, mock.Anything).Return(assert.AnError)
		su := &stats.MockStatsUpdater{}
		su.On("Incr", mock.Anything)
		cs := newTestChatServer(t, db, su)
		c := newTestClient(t, cs, 1)

		assert.NoError(t, cs.Connect(context.Background(), c))
		assert.True(t, cs.presence.IsRegistered(1))
	})
}

func TestDisconnect(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetUsersByIds", mock.Anything, []int{1}).Return([]database.User{alice}, nil)
	db.On("TouchLastSeen", mock.Anything, 1, mock.Anything).Return(nil)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything)
	su.On("Decr", metricActiveConnections).Once()
	su.On("Decr", metricOnlineUsers).Once()
	cs := newTestChatServer(t, db, su)
	c := newTestClient(t, cs, 1)

	require.NoError(t, cs.Connect(context.Background(), c))
	drain(c)

	cs.Disconnect(context.Background(), c)
	cs.Disconnect(context.Background(), c)

	assert.Equal(t, stateTerminated, c.state.Load())
	assert.False(t, cs.presence.IsRegistered(1))
	assert.False(t, cs.hub.IsSubscribed(c, PersonalChannel(1)))
	assert.Equal(t, 0, cs.ClientCount())
	assert.False(t, c.queueMessage(ErrorMessage("late")), "expected terminated connection to refuse events")
	db.AssertNumberOfCalls(t, "TouchLastSeen", 2)
	su.AssertExpectations(t)
}

func TestReconnectDoesNotKeepViewingState(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetUsersByIds", mock.Anything, []int{2}).Return([]database.User{bob}, nil)
	db.On("TouchLastSeen", mock.Anything, 2, mock.Anything).Return(nil)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything)
	su.On("Decr", mock.Anything)
	cs := newTestChatServer(t, db, su)
	room := RoomName(1, 2)

	first := newTestClient(t, cs, 2)
	require.NoError(t, cs.Connect(context.Background(), first))
	first.handleMessage([]byte(`{"event":"join_chat","data":{"recipient_id":1}}`))
	require.True(t, cs.presence.IsViewing(2, room))

	cs.Disconnect(context.Background(), first)

	second := newTestClient(t, cs, 2)
	require.NoError(t, cs.Connect(context.Background(), second))
	assert.False(t, cs.presence.IsViewing(2, room), "expected viewing state to be cleared by reconnect")
	assert.True(t, cs.presence.IsRegistered(2))
}

func TestShutdown(t *testing.T) {
	t.Run("waits for connections to disconnect", func(t *testing.T) {
		db := &database.MockChatRepository{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", mock.Anything)
		su.On("Decr", mock.Anything)
		cs := newTestChatServer(t, db, su)
		c := newTestClient(t, cs, 0)
		require.NoError(t, cs.Connect(context.Background(), c))

		go func() {
			<-c.stop
			cs.Disconnect(context.Background(), c)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		assert.NoError(t, cs.Shutdown(ctx))
		assert.Equal(t, 0, cs.ClientCount())
		assert.ErrorIs(t, cs.Connect(context.Background(), newTestClient(t, cs, 0)), ErrServerClosed)
	})

	t.Run("gives up when the context expires", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", mock.Anything)
		cs := newTestChatServer(t, &database.MockChatRepository{}, su)
		c := newTestClient(t, cs, 0)
		require.NoError(t, cs.Connect(context.Background(), c))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, cs.Shutdown(ctx), context.DeadlineExceeded)
		select {
		case <-c.stop:
		default:
			t.Error("expected connection to be stopped")
		}
	})

	t.Run("connections racing shutdown are stopped or refused", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.AllowAll()
		cs := newTestChatServer(t, &database.MockChatRepository{}, su)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := newTestClient(t, cs, 0)
				if err := cs.Connect(context.Background(), c); err != nil {
					assert.ErrorIs(t, err, ErrServerClosed)
					return
				}
				<-c.stop
				cs.Disconnect(context.Background(), c)
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		assert.NoError(t, cs.Shutdown(ctx), "expected every admitted connection to be stopped")
		wg.Wait()
		assert.Equal(t, 0, cs.ClientCount())
	})
}
