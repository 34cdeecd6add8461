package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/types"
)

const historyLimit = 100

func (cs *ChatServer) getUser(ctx context.Context, id int) (database.User, error) {
	u, err := cs.db.GetUserById(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return database.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// History returns the latest messages between auth's user and peerId,
// oldest first.
func (cs *ChatServer) History(ctx context.Context, auth AuthContext, peerId int) ([]types.Message, error) {
	if !auth.authenticated() {
		return nil, ErrUnauthenticated
	}

	peer, err := cs.getUser(ctx, peerId)
	if err != nil {
		return nil, err
	}
	self, err := cs.getUser(ctx, auth.UserId)
	if err != nil {
		return nil, err
	}

	dbMsgs, err := cs.db.GetConversation(ctx, auth.UserId, peerId, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	names := map[int]string{
		peer.Id: ToUser(peer).DisplayName(),
		self.Id: ToUser(self).DisplayName(),
	}

	msgs := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		msgs = append(msgs, toMessage(m, names[m.SenderId]))
	}
	slices.Reverse(msgs)

	return msgs, nil
}

func (cs *ChatServer) UnreadCount(ctx context.Context, auth AuthContext) (int, error) {
	if !auth.authenticated() {
		return 0, ErrUnauthenticated
	}

	count, err := cs.db.CountUnread(ctx, auth.UserId)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// Inbox lists auth's conversations, most recently active first.
func (cs *ChatServer) Inbox(ctx context.Context, auth AuthContext) ([]types.Conversation, error) {
	if !auth.authenticated() {
		return nil, ErrUnauthenticated
	}

	rows, err := cs.db.ListConversations(ctx, auth.UserId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	// resolved on the first row whose last message the caller sent
	selfName := ""
	convs := make([]types.Conversation, 0, len(rows))
	for _, row := range rows {
		peer := ToUser(row.Peer)
		senderName := peer.DisplayName()
		if row.LastMessage.SenderId == auth.UserId {
			if selfName == "" {
				self, err := cs.getUser(ctx, auth.UserId)
				if err != nil {
					return nil, err
				}
				selfName = ToUser(self).DisplayName()
			}
			senderName = selfName
		}
		convs = append(convs, types.Conversation{
			User:        peer,
			LastMessage: toMessage(row.LastMessage, senderName),
			UnreadCount: row.UnreadCount,
		})
	}

	return convs, nil
}

func (cs *ChatServer) UserInfo(ctx context.Context, id int) (types.User, error) {
	u, err := cs.getUser(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	return ToUser(u), nil
}

func (cs *ChatServer) OnlineUsers(ctx context.Context) (OnlineUsers, error) {
	return cs.presence.Snapshot(ctx)
}

// AdminStats reports store totals and the number of online users.
func (cs *ChatServer) AdminStats(ctx context.Context, auth AuthContext) (types.Stats, error) {
	if !auth.authenticated() {
		return types.Stats{}, ErrUnauthenticated
	}
	if !auth.IsAdmin {
		return types.Stats{}, ErrForbidden
	}

	s, err := cs.db.CountStats(ctx)
	if err != nil {
		return types.Stats{}, fmt.Errorf("count stats: %w", err)
	}

	return types.Stats{
		TotalUsers:    s.TotalUsers,
		ActiveUsers:   s.ActiveUsers,
		TotalMessages: s.TotalMessages,
		TotalFiles:    s.TotalFiles,
		OnlineUsers:   len(cs.presence.OnlineIds()),
	}, nil
}

// FileForDownload returns the file if auth may read it: its uploader, the
// recipient of the message carrying it, or an admin.
func (cs *ChatServer) FileForDownload(ctx context.Context, auth AuthContext, fileId int) (database.File, error) {
	if !auth.authenticated() {
		return database.File{}, ErrUnauthenticated
	}

	f, err := cs.db.GetFile(ctx, fileId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.File{}, fmt.Errorf("%w: file %d", ErrNotFound, fileId)
		}
		return database.File{}, fmt.Errorf("get file: %w", err)
	}

	if auth.IsAdmin || f.UserId == auth.UserId {
		return f, nil
	}

	if f.MessageId != nil {
		msg, err := cs.db.GetMessage(ctx, *f.MessageId)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return database.File{}, fmt.Errorf("get message: %w", err)
		}
		if err == nil && msg.RecipientId == auth.UserId {
			return f, nil
		}
	}

	return database.File{}, ErrForbidden
}
