package database

import (
	"context"
	"errors"
	"time"
)

// ErrAttachmentUnavailable is returned by CreateMessage when a file id does
// not exist, belongs to another user or is already attached to a message.
var ErrAttachmentUnavailable = errors.New("attachment unavailable")

type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error

	UpsertDirectoryUser(ctx context.Context, params UpsertUserParams) (User, error)
	GetUserById(ctx context.Context, id int) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUsersByIds(ctx context.Context, ids []int) ([]User, error)
	TouchLastSeen(ctx context.Context, id int, t time.Time) error
	DeactivateUsersExcept(ctx context.Context, usernames []string) (int, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int) (Message, error)
	MarkMessageRead(ctx context.Context, id int) (bool, error)
	MarkAllRead(ctx context.Context, senderId, recipientId int) ([]int, error)
	GetConversation(ctx context.Context, userA, userB, limit int) ([]Message, error)
	CountUnread(ctx context.Context, recipientId int) (int, error)
	ListConversations(ctx context.Context, userId int) ([]ConversationRow, error)

	CreateFile(ctx context.Context, params CreateFileParams) (File, error)
	GetFile(ctx context.Context, id int) (File, error)
	ListFilesOlderThan(ctx context.Context, cutoff time.Time) ([]File, error)
	DeleteFile(ctx context.Context, id int) error

	CountStats(ctx context.Context) (Stats, error)
}
