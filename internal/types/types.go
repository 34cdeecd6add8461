package types

import (
	"time"
)

type User struct {
	Id         int       `json:"id"`
	Username   string    `json:"username"`
	Fullname   string    `json:"fullname"`
	Email      string    `json:"email,omitempty"`
	Department string    `json:"department,omitempty"`
	Position   string    `json:"position,omitempty"`
	IsActive   bool      `json:"is_active"`
	IsAdmin    bool      `json:"is_admin,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

// DisplayName falls back to the login name for accounts the directory
// returned without a display name.
func (u User) DisplayName() string {
	if u.Fullname != "" {
		return u.Fullname
	}
	return u.Username
}

// OnlineUser is the profile subset published in presence snapshots.
type OnlineUser struct {
	Id         int    `json:"id"`
	Username   string `json:"username"`
	Fullname   string `json:"fullname"`
	Department string `json:"department"`
	Position   string `json:"position"`
}

type File struct {
	Id       int    `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

type Message struct {
	Id          int       `json:"id"`
	SenderId    int       `json:"sender_id"`
	RecipientId int       `json:"recipient_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Room        string    `json:"room,omitempty"`
	IsRead      bool      `json:"is_read"`
	Files       []File    `json:"files"`
}

// Conversation is one inbox row: the peer, the latest message exchanged
// with them and how many of their messages are still unread.
type Conversation struct {
	User        User    `json:"user"`
	LastMessage Message `json:"last_message"`
	UnreadCount int     `json:"unread_count"`
}

type Stats struct {
	TotalUsers    int `json:"total_users"`
	ActiveUsers   int `json:"active_users"`
	TotalMessages int `json:"total_messages"`
	TotalFiles    int `json:"total_files"`
	OnlineUsers   int `json:"online_users"`
}
