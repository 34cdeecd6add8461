package database

import "time"

type User struct {
	Id         int
	Username   string
	Fullname   string
	Email      string
	Department string
	Position   string
	IsActive   bool
	LastSeen   time.Time
	CreatedAt  time.Time
}

type Message struct {
	Id          int
	SenderId    int
	RecipientId int
	Content     string
	IsRead      bool
	CreatedAt   time.Time
	Files       []File
}

// File is an uploaded attachment. Filename is the name the uploader gave
// it; StoredName locates the blob on disk.
type File struct {
	Id         int
	Filename   string
	StoredName string
	UserId     int
	Size       int64
	MessageId  *int
	CreatedAt  time.Time
}

// ConversationRow is the latest message exchanged with one peer.
type ConversationRow struct {
	Peer        User
	LastMessage Message
	UnreadCount int
}

type Stats struct {
	TotalUsers    int
	ActiveUsers   int
	TotalMessages int
	TotalFiles    int
}

type UpsertUserParams struct {
	Username   string
	Fullname   string
	Email      string
	Department string
	Position   string
}

type CreateMessageParams struct {
	SenderId    int
	RecipientId int
	Content     string
	FileIds     []int
	CreatedAt   time.Time
}

type CreateFileParams struct {
	Filename   string
	StoredName string
	UserId     int
	Size       int64
}
