package server

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/npezzotti/go-dirchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	db := &database.MockChatRepository{}
	db.On("GetUserById", mock.Anything, 1).Return(alice, nil)
	db.On("GetUserById", mock.Anything, 2).Return(bob, nil)
	db.On("GetConversation", mock.Anything, 1, 2, historyLimit).Return([]database.Message{
		{Id: 3, SenderId: 2, RecipientId: 1, Content: "third", CreatedAt: t0.Add(2 * time.Minute)},
		{Id: 2, SenderId: 1, RecipientId: 2, Content: "second", CreatedAt: t0.Add(time.Minute), IsRead: true},
		{Id: 1, SenderId: 2, RecipientId: 1, Content: "first", CreatedAt: t0, IsRead: true},
	}, nil)
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

	msgs, err := cs.History(context.Background(), AuthContext{UserId: 1}, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, []int{1, 2, 3}, []int{msgs[0].Id, msgs[1].Id, msgs[2].Id}, "expected oldest first")
	assert.Equal(t, "Bob Brown", msgs[0].SenderName)
	assert.Equal(t, "Alice Anders", msgs[1].SenderName)
	assert.Equal(t, "chat_1_2", msgs[2].Room)
}

func TestHistoryErrors(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetUserById", mock.Anything, 9).Return(database.User{}, sql.ErrNoRows)
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

	_, err := cs.History(context.Background(), AuthContext{UserId: 1}, 9)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cs.History(context.Background(), AuthContext{}, 2)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestInbox(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ListConversations", mock.Anything, 1).Return([]database.ConversationRow{
		{
			Peer:        bob,
			LastMessage: database.Message{Id: 7, SenderId: 2, RecipientId: 1, Content: "ping", CreatedAt: t0},
			UnreadCount: 3,
		},
		{
			Peer:        database.User{Id: 3, Username: "carol"},
			LastMessage: database.Message{Id: 5, SenderId: 1, RecipientId: 3, Content: "pong", CreatedAt: t0.Add(-time.Hour)},
		},
		{
			Peer:        database.User{Id: 4, Username: "dave"},
			LastMessage: database.Message{Id: 2, SenderId: 1, RecipientId: 4, Content: "hi", CreatedAt: t0.Add(-2 * time.Hour)},
		},
	}, nil)
	db.On("GetUserById", mock.Anything, 1).Return(alice, nil).Once()
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

	convs, err := cs.Inbox(context.Background(), AuthContext{UserId: 1})
	require.NoError(t, err)
	require.Len(t, convs, 3)

	assert.Equal(t, "bob", convs[0].User.Username)
	assert.Equal(t, 3, convs[0].UnreadCount)
	assert.Equal(t, "Bob Brown", convs[0].LastMessage.SenderName)
	assert.Equal(t, "carol", convs[1].User.DisplayName(), "expected username when the directory has no full name")
	assert.Equal(t, "Alice Anders", convs[1].LastMessage.SenderName, "expected caller's name on their own message")
	assert.Equal(t, "Alice Anders", convs[2].LastMessage.SenderName)
}

func TestInboxCallerMissing(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("ListConversations", mock.Anything, 1).Return([]database.ConversationRow{{
		Peer:        bob,
		LastMessage: database.Message{Id: 7, SenderId: 1, RecipientId: 2, Content: "ping"},
	}}, nil)
	db.On("GetUserById", mock.Anything, 1).Return(database.User{}, sql.ErrNoRows)
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

	_, err := cs.Inbox(context.Background(), AuthContext{UserId: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnreadCount(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("CountUnread", mock.Anything, 2).Return(4, nil)
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

	count, err := cs.UnreadCount(context.Background(), AuthContext{UserId: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestUserInfo(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetUserById", mock.Anything, 2).Return(bob, nil)
	db.On("GetUserById", mock.Anything, 5).Return(database.User{}, sql.ErrNoRows)
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

	u, err := cs.UserInfo(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, types.User{
		Id:         2,
		Username:   "bob",
		Fullname:   "Bob Brown",
		Department: "HR",
		Position:   "Manager",
		IsActive:   true,
	}, u)

	_, err = cs.UserInfo(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminStats(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("CountStats", mock.Anything).Return(database.Stats{TotalUsers: 5, ActiveUsers: 4, TotalMessages: 20, TotalFiles: 2}, nil)
	su := &stats.MockStatsUpdater{}
	su.AllowAll()
	cs := newTestChatServer(t, db, su)
	cs.presence.SetViewingRoom(1, newTestClient(t, cs, 1), RoomName(1, 2))

	s, err := cs.AdminStats(context.Background(), AuthContext{UserId: 1, IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, types.Stats{TotalUsers: 5, ActiveUsers: 4, TotalMessages: 20, TotalFiles: 2, OnlineUsers: 1}, s)

	_, err = cs.AdminStats(context.Background(), AuthContext{UserId: 2})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFileForDownload(t *testing.T) {
	messageId := 30
	attached := database.File{Id: 4, Filename: "abc_notes.txt", UserId: 1, Size: 12, MessageId: &messageId}
	loose := database.File{Id: 5, Filename: "def_draft.txt", UserId: 1, Size: 3}

	tcases := []struct {
		name    string
		auth    AuthContext
		file    database.File
		wantErr error
	}{
		{name: "uploader", auth: AuthContext{UserId: 1}, file: attached},
		{name: "recipient", auth: AuthContext{UserId: 2}, file: attached},
		{name: "admin", auth: AuthContext{UserId: 9, IsAdmin: true}, file: loose},
		{name: "stranger", auth: AuthContext{UserId: 3}, file: attached, wantErr: ErrForbidden},
		{name: "unattached file of another user", auth: AuthContext{UserId: 2}, file: loose, wantErr: ErrForbidden},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			db.On("GetFile", mock.Anything, tc.file.Id).Return(tc.file, nil)
			db.On("GetMessage", mock.Anything, messageId).Return(database.Message{Id: messageId, SenderId: 1, RecipientId: 2}, nil).Maybe()
			cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

			f, err := cs.FileForDownload(context.Background(), tc.auth, tc.file.Id)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.file, f)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetFile", mock.Anything, 99).Return(database.File{}, sql.ErrNoRows)
		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

		_, err := cs.FileForDownload(context.Background(), AuthContext{UserId: 1}, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestErrorMessage(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		want string
	}{
		{name: "validation", err: ErrValidation, want: "validation failed"},
		{name: "forbidden", err: ErrForbidden, want: "forbidden"},
		{name: "delivery failure hides cause", err: fmt.Errorf("%w: %w", ErrDeliveryFailed, sql.ErrConnDone), want: "delivery failed"},
		{name: "unknown error", err: assert.AnError, want: "internal server error"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorMessage(tc.err))
		})
	}
}
