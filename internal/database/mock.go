package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) UpsertDirectoryUser(ctx context.Context, params UpsertUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, id int) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) TouchLastSeen(ctx context.Context, id int, t time.Time) error {
	args := m.Called(ctx, id, t)
	return args.Error(0)
}
func (m *MockChatRepository) DeactivateUsersExcept(ctx context.Context, usernames []string) (int, error) {
	args := m.Called(ctx, usernames)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) MarkMessageRead(ctx context.Context, id int) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) MarkAllRead(ctx context.Context, senderId, recipientId int) ([]int, error) {
	args := m.Called(ctx, senderId, recipientId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockChatRepository) GetConversation(ctx context.Context, userA, userB, limit int) ([]Message, error) {
	args := m.Called(ctx, userA, userB, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) CountUnread(ctx context.Context, recipientId int) (int, error) {
	args := m.Called(ctx, recipientId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) ListConversations(ctx context.Context, userId int) ([]ConversationRow, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]ConversationRow), args.Error(1)
}
func (m *MockChatRepository) CreateFile(ctx context.Context, params CreateFileParams) (File, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(File), args.Error(1)
}
func (m *MockChatRepository) GetFile(ctx context.Context, id int) (File, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(File), args.Error(1)
}
func (m *MockChatRepository) ListFilesOlderThan(ctx context.Context, cutoff time.Time) ([]File, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]File), args.Error(1)
}
func (m *MockChatRepository) DeleteFile(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockChatRepository) CountStats(ctx context.Context) (Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(Stats), args.Error(1)
}
