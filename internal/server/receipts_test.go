package server

import (
	"context"
	"database/sql"
	"testing"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMarkRead(t *testing.T) {
	unread := database.Message{Id: 10, SenderId: 1, RecipientId: 2, Content: "hi"}
	read := unread
	read.IsRead = true

	t.Run("recipient marks read twice", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetMessage", mock.Anything, 10).Return(unread, nil).Once()
		db.On("GetMessage", mock.Anything, 10).Return(read, nil).Once()
		db.On("MarkMessageRead", mock.Anything, 10).Return(true, nil).Once()
		su := &stats.MockStatsUpdater{}
		su.On("Incr", metricOnlineUsers)
		su.On("Incr", metricReadReceipts).Once()
		cs := newTestChatServer(t, db, su)

		sender := newTestClient(t, cs, 1)
		subscribe(cs, sender, RoomName(1, 2))
		reader := newTestClient(t, cs, 2)
		subscribe(cs, reader, RoomName(1, 2))

		require.NoError(t, cs.MarkRead(context.Background(), AuthContext{UserId: 2}, 10))
		require.NoError(t, cs.MarkRead(context.Background(), AuthContext{UserId: 2}, 10), "expected marking again to succeed")

		senderMsgs := drain(sender)
		assert.Equal(t, []string{EventMessageRead, EventMessageRead}, events(senderMsgs))
		assert.Equal(t, MessageRead{MessageId: 10, IsRead: true}, senderMsgs[0].Data)

		readerMsgs := drain(reader)
		assert.Equal(t, []string{EventMessageRead, EventInboxUpdate, EventMessageRead, EventInboxUpdate}, events(readerMsgs))
		update, ok := readerMsgs[1].Data.(InboxUpdate)
		require.True(t, ok)
		assert.Equal(t, 2, update.UserId)
		assert.Equal(t, 1, update.SenderId)
		assert.True(t, update.IsReadUpdate)

		db.AssertExpectations(t)
		su.AssertExpectations(t)
	})

	tcases := []struct {
		name    string
		auth    AuthContext
		setup   func(db *database.MockChatRepository)
		wantErr error
	}{
		{
			name: "sender may not mark read",
			auth: AuthContext{UserId: 1},
			setup: func(db *database.MockChatRepository) {
				db.On("GetMessage", mock.Anything, 10).Return(unread, nil)
			},
			wantErr: ErrForbidden,
		},
		{
			name: "third party may not mark read",
			auth: AuthContext{UserId: 3, IsAdmin: true},
			setup: func(db *database.MockChatRepository) {
				db.On("GetMessage", mock.Anything, 10).Return(unread, nil)
			},
			wantErr: ErrForbidden,
		},
		{
			name: "unknown message",
			auth: AuthContext{UserId: 2},
			setup: func(db *database.MockChatRepository) {
				db.On("GetMessage", mock.Anything, 10).Return(database.Message{}, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "unauthenticated",
			setup:   func(db *database.MockChatRepository) {},
			wantErr: ErrUnauthenticated,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			tc.setup(db)
			su := &stats.MockStatsUpdater{}
			su.On("Incr", metricOnlineUsers)
			cs := newTestChatServer(t, db, su)

			sender := newTestClient(t, cs, 1)
			subscribe(cs, sender, RoomName(1, 2))

			err := cs.MarkRead(context.Background(), tc.auth, 10)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, drain(sender))
			db.AssertNotCalled(t, "MarkMessageRead", mock.Anything, mock.Anything)
			db.AssertExpectations(t)
		})
	}
}

func TestMarkAllRead(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("MarkAllRead", mock.Anything, 1, 2).Return([]int{10, 11}, nil)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", metricOnlineUsers)
	su.On("Incr", metricReadReceipts).Twice()
	cs := newTestChatServer(t, db, su)

	sender := newTestClient(t, cs, 1)
	subscribe(cs, sender, RoomName(1, 2))
	reader := newTestClient(t, cs, 2)
	subscribe(cs, reader, "")

	count, err := cs.MarkAllRead(context.Background(), AuthContext{UserId: 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	senderMsgs := drain(sender)
	require.Len(t, senderMsgs, 2)
	assert.Equal(t, MessageRead{MessageId: 10, IsRead: true}, senderMsgs[0].Data)
	assert.Equal(t, MessageRead{MessageId: 11, IsRead: true}, senderMsgs[1].Data)

	assert.Equal(t, []string{EventInboxUpdate}, events(drain(reader)))
	su.AssertExpectations(t)
}

func TestMarkAllReadNothingUnread(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("MarkAllRead", mock.Anything, 1, 2).Return([]int{}, nil)
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, db, su)

	count, err := cs.MarkAllRead(context.Background(), AuthContext{UserId: 2}, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	su.AssertNotCalled(t, "Incr", metricReadReceipts)
}
